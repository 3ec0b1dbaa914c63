package domain

import "time"

type NotificationType string

const (
	TypeJobMatch             NotificationType = "job_match"
	TypeCourseRecommendation NotificationType = "course_recommendation"
	TypeInterviewReminder    NotificationType = "interview_reminder"
	TypeApplicationStatus    NotificationType = "application_status"
	TypeNewApplication       NotificationType = "new_application"
	TypeCandidateMatch       NotificationType = "candidate_match"
	TypeRecommendationUpdate NotificationType = "recommendation_update"
	TypeNewMessage           NotificationType = "new_message"
	TypeNewDeviceLogin       NotificationType = "new_device_login"
	TypeSystem               NotificationType = "system"
)

// NotificationTypes lists every known type in a stable order.
var NotificationTypes = []NotificationType{
	TypeJobMatch,
	TypeCourseRecommendation,
	TypeInterviewReminder,
	TypeApplicationStatus,
	TypeNewApplication,
	TypeCandidateMatch,
	TypeRecommendationUpdate,
	TypeNewMessage,
	TypeNewDeviceLogin,
	TypeSystem,
}

func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// DispatchStatus is the send-state the dispatcher writes back onto a record.
type DispatchStatus string

const (
	StatusCreated    DispatchStatus = "CREATED"
	StatusSuppressed DispatchStatus = "SUPPRESSED"
	StatusDeferred   DispatchStatus = "DEFERRED"
	StatusSent       DispatchStatus = "SENT"
	StatusFailed     DispatchStatus = "FAILED"
)

// RelatedData holds optional references to the entities a notification is about.
type RelatedData struct {
	JobPosting     string `json:"job_posting,omitempty" dynamodbav:"job_posting,omitempty"`
	JobApplication string `json:"job_application,omitempty" dynamodbav:"job_application,omitempty"`
	Appointment    string `json:"appointment,omitempty" dynamodbav:"appointment,omitempty"`
	VideoInterview string `json:"video_interview,omitempty" dynamodbav:"video_interview,omitempty"`
	Conversation   string `json:"conversation,omitempty" dynamodbav:"conversation,omitempty"`
	Candidate      string `json:"candidate,omitempty" dynamodbav:"candidate,omitempty"`
}

type PushData struct {
	Endpoint string   `json:"endpoint" dynamodbav:"endpoint"`
	Keys     PushKeys `json:"keys" dynamodbav:"keys"`
}

type Notification struct {
	NotificationID string           `json:"id" dynamodbav:"notification_id"`
	RecipientID    string           `json:"recipient_id" dynamodbav:"user_id"`
	Type           NotificationType `json:"type" dynamodbav:"type"`
	Title          string           `json:"title" dynamodbav:"title"`
	Message        string           `json:"message" dynamodbav:"message"`
	Icon           string           `json:"icon,omitempty" dynamodbav:"icon,omitempty"`
	Sound          string           `json:"sound,omitempty" dynamodbav:"sound,omitempty"`
	RelatedData    *RelatedData     `json:"related_data,omitempty" dynamodbav:"related_data,omitempty"`
	IsRead         bool             `json:"is_read" dynamodbav:"is_read"`
	ReadAt         *time.Time       `json:"read_at" dynamodbav:"read_at"`
	Priority       Priority         `json:"priority" dynamodbav:"priority"`
	Status         DispatchStatus   `json:"status" dynamodbav:"status"`
	ScheduledFor   *time.Time       `json:"scheduled_for,omitempty" dynamodbav:"scheduled_for,omitempty"`
	SentAt         *time.Time       `json:"sent_at" dynamodbav:"sent_at"`
	PushSent       bool             `json:"push_sent" dynamodbav:"push_sent"`
	PushData       *PushData        `json:"push_data,omitempty" dynamodbav:"push_data,omitempty"`
	DeliveryErrors []string         `json:"delivery_errors,omitempty" dynamodbav:"delivery_errors,omitempty"`
	CreatedAt      time.Time        `json:"created" dynamodbav:"created_at"`
}

// NotificationPage is one page of a recipient's notifications, newest first.
type NotificationPage struct {
	Items []Notification `json:"data"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// TotalPages is ceil(Total/Limit), never below 1.
func (p NotificationPage) TotalPages() int {
	if p.Limit <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

func (p NotificationPage) HasNextPage() bool { return p.Page < p.TotalPages() }

func (p NotificationPage) HasPrevPage() bool { return p.Page > 1 }

type PageQuery struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

// DispatchResult is the send-state written back onto a record after fan-out.
type DispatchResult struct {
	Status   DispatchStatus
	SentAt   time.Time
	PushSent bool
	PushData *PushData
	Errors   []string
}
