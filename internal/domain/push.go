package domain

import "time"

type PushKeys struct {
	P256dh string `json:"p256dh" dynamodbav:"p256dh" validate:"required"`
	Auth   string `json:"auth" dynamodbav:"auth" validate:"required"`
}

// PushSubscription is a standard Web Push subscription, or an SNS platform
// endpoint ARN for native mobile clients. Endpoint is unique across recipients.
type PushSubscription struct {
	Endpoint    string    `json:"endpoint" dynamodbav:"endpoint" validate:"required"`
	RecipientID string    `json:"recipient_id" dynamodbav:"user_id"`
	Keys        PushKeys  `json:"keys" dynamodbav:"keys"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated" dynamodbav:"updated_at"`
}

type SubscribeRequest struct {
	Endpoint string   `json:"endpoint" validate:"required,url"`
	Keys     PushKeys `json:"keys" validate:"required"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// PushPayload is the JSON body handed to a push transport.
type PushPayload struct {
	NotificationID string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Icon           string           `json:"icon,omitempty"`
	Sound          string           `json:"sound,omitempty"`
	Priority       Priority         `json:"priority"`
	URL            string           `json:"url,omitempty"`
}
