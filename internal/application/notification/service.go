package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/infrastructure/realtime"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	pageTTL   = 60 * time.Second
	unreadTTL = 60 * time.Second
)

// Store is the subset of the notification repository the service uses.
type Store interface {
	FindPage(ctx context.Context, recipientID string, q domain.PageQuery) (*domain.NotificationPage, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
	Delete(ctx context.Context, recipientID, notificationID string) error
}

// Cache is the subset of cache.Store the service uses.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool
	DelPattern(ctx context.Context, pattern string) int
}

// Broadcaster publishes realtime events.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, data any) bool
}

type Service interface {
	List(ctx context.Context, recipientID string, q domain.PageQuery) (*domain.NotificationPage, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
	Delete(ctx context.Context, recipientID, notificationID string) error
	// Refresh drops the recipient's cached reads and pushes the new unread count.
	Refresh(ctx context.Context, recipientID string)
}

type service struct {
	repo   Store
	cache  Cache
	events Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Store, c Cache, events Broadcaster, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{repo: repo, cache: c, events: events, logger: logger, now: time.Now}
}

// Normalize clamps page and limit into the accepted range.
func Normalize(q domain.PageQuery) domain.PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func (s *service) List(ctx context.Context, recipientID string, q domain.PageQuery) (*domain.NotificationPage, error) {
	q = Normalize(q)
	key := cache.NotificationPageKey(recipientID, q.Page, q.Limit, q.UnreadOnly)

	var cached domain.NotificationPage
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}
	page, err := s.repo.FindPage(ctx, recipientID, q)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, page, pageTTL)
	return page, nil
}

func (s *service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	key := cache.UnreadCountKey(recipientID)
	var n int
	if s.cache.GetJSON(ctx, key, &n) {
		return n, nil
	}
	n, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	s.cache.SetJSON(ctx, key, n, unreadTTL)
	return n, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error) {
	n, err := s.repo.MarkRead(ctx, recipientID, notificationID, s.now())
	if err != nil {
		return nil, err
	}
	s.Refresh(ctx, recipientID)
	return n, nil
}

func (s *service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	count, err := s.repo.MarkAllRead(ctx, recipientID, s.now())
	if err != nil {
		return count, err
	}
	s.Refresh(ctx, recipientID)
	return count, nil
}

func (s *service) Delete(ctx context.Context, recipientID, notificationID string) error {
	if err := s.repo.Delete(ctx, recipientID, notificationID); err != nil {
		return err
	}
	s.Refresh(ctx, recipientID)
	return nil
}

func (s *service) Refresh(ctx context.Context, recipientID string) {
	s.cache.DelPattern(ctx, cache.NotificationsPattern(recipientID))
	n, err := s.UnreadCount(ctx, recipientID)
	if err != nil {
		s.logger.Warn("unread count refresh failed", "recipient_id", recipientID, "err", err)
		return
	}
	s.events.Publish(ctx, realtime.PrivateChannel(recipientID), realtime.EventUnreadCountUpdated, map[string]int{"unread_count": n})
}
