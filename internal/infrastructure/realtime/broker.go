// Package realtime publishes in-session events through Redis pub/sub and fans
// them out to websocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	privateUserPrefix    = "private-user-"
	conversationPrefix   = "conversation-"
	videoInterviewPrefix = "video-interview-"

	// redisPrefix namespaces broker channels inside Redis.
	redisPrefix = "realtime:"
)

// Event names published by the server.
const (
	EventNotification       = "notification"
	EventUnreadCountUpdated = "unread-count-updated"
	EventTyping             = "typing"
	EventMessage            = "message"
)

func PrivateChannel(recipientID string) string { return privateUserPrefix + recipientID }

func ConversationChannel(conversationID string) string { return conversationPrefix + conversationID }

func InterviewChannel(interviewID string) string { return videoInterviewPrefix + interviewID }

// IsShared reports whether channel is a conversation or interview channel.
func IsShared(channel string) bool {
	return strings.HasPrefix(channel, conversationPrefix) || strings.HasPrefix(channel, videoInterviewPrefix)
}

// Envelope is the wire shape of every realtime event.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Publisher is the pub/sub primitive the broker writes to.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) bool
}

// Broker publishes events at most once: nothing is stored and nothing is
// retried, so only currently connected subscribers see an event.
type Broker struct {
	pub    Publisher
	logger *slog.Logger
}

func NewBroker(pub Publisher, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{pub: pub, logger: logger.With("component", "realtime")}
}

// Publish sends event with data on channel. It reports whether the broker
// accepted the message, not whether anyone received it.
func (b *Broker) Publish(ctx context.Context, channel, event string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("realtime encode failed", "channel", channel, "event", event, "err", err)
		return false
	}
	msg, err := json.Marshal(Envelope{Channel: channel, Event: event, Data: raw})
	if err != nil {
		b.logger.Warn("realtime encode failed", "channel", channel, "event", event, "err", err)
		return false
	}
	ok := b.pub.Publish(ctx, redisPrefix+channel, msg)
	if !ok {
		b.logger.Warn("realtime publish dropped", "channel", channel, "event", event)
	}
	return ok
}
