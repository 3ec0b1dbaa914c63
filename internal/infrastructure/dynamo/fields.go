package dynamo

// Attribute names shared by key conditions and update expressions.
const (
	fieldNotificationID = "notification_id"
	fieldUserID         = "user_id"
	fieldCreatedKey     = "created_key"
	fieldType           = "type"
	fieldIsRead         = "is_read"
	fieldReadAt         = "read_at"
	fieldStatus         = "status"
	fieldPriority       = "priority"
	fieldSentAt         = "sent_at"
	fieldPushSent       = "push_sent"
	fieldPushData       = "push_data"
	fieldDeliveryErrors = "delivery_errors"
	fieldEndpoint       = "endpoint"
	fieldReminderID     = "reminder_id"
	fieldExpiresAt      = "expires_at"
)

// Index names.
const (
	indexUserCreated = "user_id-created_key-index"
	indexUser        = "user_id-index"
)
