package cache

import (
	"fmt"
	"strings"
	"time"
)

// Namespaces group related keys so they can be invalidated together.
const (
	NamespaceNotifications = "notifications"
	NamespacePreferences   = "notification_prefs"
	NamespaceSubscriptions = "push_subs"
	NamespaceDailyCap      = "daily_cap"
)

// Key builds namespace:entityID[:subkey...].
func Key(namespace, entityID string, subkeys ...string) string {
	parts := append([]string{namespace, entityID}, subkeys...)
	return strings.Join(parts, ":")
}

// Pattern builds the wildcard namespace:entityID:* covering every subkey.
func Pattern(namespace, entityID string) string {
	return Key(namespace, entityID, "*")
}

// Every builder that writes a key has exactly one invalidation builder:
//
//	NotificationPageKey  -> NotificationsPattern (DelPattern)
//	UnreadCountKey       -> NotificationsPattern (DelPattern)
//	PreferencesKey       -> PreferencesKey       (Del)
//	SubscriptionsKey     -> SubscriptionsKey     (Del)
//	DailyCapKey          -> DailyCapPattern      (DelPattern)

func NotificationPageKey(recipientID string, page, limit int, unreadOnly bool) string {
	return Key(NamespaceNotifications, recipientID, "page",
		fmt.Sprintf("%d", page), fmt.Sprintf("%d", limit), fmt.Sprintf("%t", unreadOnly))
}

func UnreadCountKey(recipientID string) string {
	return Key(NamespaceNotifications, recipientID, "unread_count")
}

// NotificationsPattern invalidates every cached page and the unread count of a recipient.
func NotificationsPattern(recipientID string) string {
	return Pattern(NamespaceNotifications, recipientID)
}

func PreferencesKey(recipientID string) string {
	return Key(NamespacePreferences, recipientID)
}

func SubscriptionsKey(recipientID string) string {
	return Key(NamespaceSubscriptions, recipientID)
}

// DailyCapKey is the per-day counter for (recipient, type); day is formatted
// in the recipient's local calendar.
func DailyCapKey(recipientID, notificationType string, day time.Time) string {
	return Key(NamespaceDailyCap, recipientID, notificationType, day.Format("20060102"))
}

func DailyCapPattern(recipientID string) string {
	return Pattern(NamespaceDailyCap, recipientID)
}
