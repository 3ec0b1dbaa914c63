package domain

import (
	"fmt"
	"time"
)

// FireSpec is a declarative fire time. Exactly one of Cron, Weekly/Daily fields
// or At is used: recurring specs re-derive their next fire time on every start.
type FireSpec struct {
	Cron    string     `json:"cron,omitempty" dynamodbav:"cron,omitempty"`
	Weekday *int       `json:"weekday,omitempty" dynamodbav:"weekday,omitempty" validate:"omitempty,min=0,max=6"`
	Hour    *int       `json:"hour,omitempty" dynamodbav:"hour,omitempty" validate:"omitempty,min=0,max=23"`
	Minute  *int       `json:"minute,omitempty" dynamodbav:"minute,omitempty" validate:"omitempty,min=0,max=59"`
	At      *time.Time `json:"at,omitempty" dynamodbav:"at,omitempty"`
}

// CronExpr renders a recurring spec as a five-field cron expression.
func (f FireSpec) CronExpr() (string, error) {
	if f.Cron != "" {
		return f.Cron, nil
	}
	if f.Hour == nil {
		return "", fmt.Errorf("recurring reminder needs cron or hour: %w", ErrBadRequest)
	}
	minute := 0
	if f.Minute != nil {
		minute = *f.Minute
	}
	dow := "*"
	if f.Weekday != nil {
		dow = fmt.Sprintf("%d", *f.Weekday)
	}
	return fmt.Sprintf("%d %d * * %s", minute, *f.Hour, dow), nil
}

// ReminderPayload references the template and data used to build the
// notification when the reminder fires.
type ReminderPayload struct {
	Type        NotificationType  `json:"type" dynamodbav:"type" validate:"required,notification_type"`
	Role        Role              `json:"role" dynamodbav:"role" validate:"required,role"`
	Priority    Priority          `json:"priority" dynamodbav:"priority" validate:"priority"`
	Data        map[string]string `json:"data,omitempty" dynamodbav:"data,omitempty"`
	RelatedData *RelatedData      `json:"related_data,omitempty" dynamodbav:"related_data,omitempty"`
}

type ScheduledReminder struct {
	ReminderID  string          `json:"id" dynamodbav:"reminder_id"`
	RecipientID string          `json:"recipient_id" dynamodbav:"user_id" validate:"required"`
	Spec        FireSpec        `json:"spec" dynamodbav:"spec"`
	Repeats     bool            `json:"repeats" dynamodbav:"repeats"`
	Payload     ReminderPayload `json:"payload" dynamodbav:"payload"`
	CreatedAt   time.Time       `json:"created" dynamodbav:"created_at"`
}

// Event builds the CREATED notification event the reminder feeds to the dispatcher.
func (r *ScheduledReminder) Event() NotificationEvent {
	data := make(map[string]string, len(r.Payload.Data))
	for k, v := range r.Payload.Data {
		data[k] = v
	}
	priority := r.Payload.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return NotificationEvent{
		RecipientID:   r.RecipientID,
		RecipientRole: r.Payload.Role,
		Type:          r.Payload.Type,
		Priority:      priority,
		Data:          data,
		RelatedData:   r.Payload.RelatedData,
	}
}
