package domain

import "time"

type Role string

const (
	RoleEmployee Role = "employee"
	RoleCompany  Role = "company"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleCompany, RoleAdmin:
		return true
	}
	return false
}

// NotificationEvent is what a producer (HTTP or the reminder scheduler) hands
// to the dispatcher.
type NotificationEvent struct {
	RecipientID   string            `json:"recipient_id" validate:"required"`
	RecipientRole Role              `json:"recipient_role" validate:"required,role"`
	Type          NotificationType  `json:"type" validate:"required,notification_type"`
	Priority      Priority          `json:"priority" validate:"priority"`
	Data          map[string]string `json:"data"`
	RelatedData   *RelatedData      `json:"related_data,omitempty"`
	ScheduledFor  *time.Time        `json:"scheduled_for,omitempty"`
}
