package domain

import "time"

const DefaultMaxPerDay = 5

type QuietHours struct {
	Enabled   bool `json:"enabled" dynamodbav:"enabled"`
	StartHour int  `json:"start_hour" dynamodbav:"start_hour" validate:"min=0,max=23"`
	EndHour   int  `json:"end_hour" dynamodbav:"end_hour" validate:"min=0,max=23"`
}

// Contains reports whether hour falls in [StartHour, EndHour), wrapping past
// midnight when StartHour > EndHour. An equal start and end is an empty window.
func (q QuietHours) Contains(hour int) bool {
	if !q.Enabled || q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

// NextEnd returns the first instant at or after now where the window closes,
// evaluated in now's location.
func (q QuietHours) NextEnd(now time.Time) time.Time {
	end := time.Date(now.Year(), now.Month(), now.Day(), q.EndHour, 0, 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

type UserNotificationPreference struct {
	RecipientID  string             `json:"recipient_id" dynamodbav:"user_id"`
	EnabledTypes []NotificationType `json:"enabled_types" dynamodbav:"enabled_types"`
	QuietHours   QuietHours         `json:"quiet_hours" dynamodbav:"quiet_hours"`
	MaxPerDay    int                `json:"max_per_day" dynamodbav:"max_per_day"`
	Timezone     string             `json:"timezone" dynamodbav:"timezone"`
	UpdatedAt    time.Time          `json:"updated" dynamodbav:"updated_at"`
}

func (p *UserNotificationPreference) TypeEnabled(t NotificationType) bool {
	for _, e := range p.EnabledTypes {
		if e == t {
			return true
		}
	}
	return false
}

// Location resolves Timezone, falling back to fallback when unset or unknown.
func (p *UserNotificationPreference) Location(fallback *time.Location) *time.Location {
	if p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// DefaultPreference is what a recipient gets before they ever save preferences:
// every type enabled, quiet hours 22-8 configured but off.
func DefaultPreference(recipientID, timezone string) *UserNotificationPreference {
	types := make([]NotificationType, len(NotificationTypes))
	copy(types, NotificationTypes)
	return &UserNotificationPreference{
		RecipientID:  recipientID,
		EnabledTypes: types,
		QuietHours:   QuietHours{Enabled: false, StartHour: 22, EndHour: 8},
		MaxPerDay:    DefaultMaxPerDay,
		Timezone:     timezone,
		UpdatedAt:    time.Now().UTC(),
	}
}

type UpdatePreferenceRequest struct {
	EnabledTypes []NotificationType `json:"enabled_types" validate:"required,dive,required,notification_type"`
	QuietHours   QuietHours         `json:"quiet_hours"`
	MaxPerDay    *int               `json:"max_per_day" validate:"required,min=0"`
	Timezone     string             `json:"timezone" validate:"omitempty,timezone"`
}
