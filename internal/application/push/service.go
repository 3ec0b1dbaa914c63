package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/pkg/validate"
)

const cacheTTL = 10 * time.Minute

// Store is the subset of the subscription repository the service uses.
type Store interface {
	Upsert(ctx context.Context, s *domain.PushSubscription) (string, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error)
	DeleteOwned(ctx context.Context, recipientID, endpoint string) (bool, error)
	Delete(ctx context.Context, endpoint string) (*domain.PushSubscription, error)
}

// Sender is one push transport. Send attempts delivery exactly once and
// reports a permanently dead endpoint as domain.ErrSubscriptionGone.
type Sender interface {
	Accepts(endpoint string) bool
	Send(ctx context.Context, sub *domain.PushSubscription, payload []byte, priority domain.Priority) error
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool
	Del(ctx context.Context, key string) bool
}

type Service interface {
	// Subscribe upserts by endpoint; repeating it is harmless.
	Subscribe(ctx context.Context, recipientID string, req domain.SubscribeRequest) (*domain.PushSubscription, error)
	// Unsubscribe removes the recipient's endpoint if present and is a no-op otherwise.
	Unsubscribe(ctx context.Context, recipientID, endpoint string) error
	ListForRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error)
	// Deliver makes a single attempt. Retry policy belongs to the caller.
	Deliver(ctx context.Context, sub *domain.PushSubscription, payload domain.PushPayload) error
	// Remove drops an endpoint regardless of owner, after a permanent failure.
	Remove(ctx context.Context, endpoint string) error
}

type service struct {
	repo    Store
	cache   Cache
	senders []Sender
	logger  *slog.Logger
}

// NewService builds the push adapter. Senders are tried in order; the first
// that accepts an endpoint owns it.
func NewService(repo Store, c Cache, logger *slog.Logger, senders ...Sender) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{repo: repo, cache: c, senders: senders, logger: logger}
}

func (s *service) senderFor(endpoint string) Sender {
	for _, snd := range s.senders {
		if snd != nil && snd.Accepts(endpoint) {
			return snd
		}
	}
	return nil
}

func (s *service) Subscribe(ctx context.Context, recipientID string, req domain.SubscribeRequest) (*domain.PushSubscription, error) {
	if err := validate.BadRequest(req); err != nil {
		return nil, err
	}
	if s.senderFor(req.Endpoint) == nil {
		return nil, fmt.Errorf("unsupported push endpoint: %w", domain.ErrBadRequest)
	}
	now := time.Now().UTC()
	sub := &domain.PushSubscription{
		Endpoint:    req.Endpoint,
		RecipientID: recipientID,
		Keys:        req.Keys,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	prevOwner, err := s.repo.Upsert(ctx, sub)
	if err != nil {
		return nil, err
	}
	s.cache.Del(ctx, cache.SubscriptionsKey(recipientID))
	if prevOwner != "" {
		s.cache.Del(ctx, cache.SubscriptionsKey(prevOwner))
		s.logger.Info("push endpoint moved", "from", prevOwner, "to", recipientID)
	}
	return sub, nil
}

func (s *service) Unsubscribe(ctx context.Context, recipientID, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is required: %w", domain.ErrBadRequest)
	}
	removed, err := s.repo.DeleteOwned(ctx, recipientID, endpoint)
	if err != nil {
		return err
	}
	if removed {
		s.cache.Del(ctx, cache.SubscriptionsKey(recipientID))
	}
	return nil
}

func (s *service) ListForRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error) {
	key := cache.SubscriptionsKey(recipientID)
	var cached []domain.PushSubscription
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	subs, err := s.repo.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, subs, cacheTTL)
	return subs, nil
}

func (s *service) Deliver(ctx context.Context, sub *domain.PushSubscription, payload domain.PushPayload) error {
	snd := s.senderFor(sub.Endpoint)
	if snd == nil {
		return fmt.Errorf("no push transport for endpoint: %w", domain.ErrSubscriptionGone)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}
	return snd.Send(ctx, sub, raw, payload.Priority)
}

func (s *service) Remove(ctx context.Context, endpoint string) error {
	removed, err := s.repo.Delete(ctx, endpoint)
	if err != nil {
		return err
	}
	if removed != nil {
		s.cache.Del(ctx, cache.SubscriptionsKey(removed.RecipientID))
		s.logger.Info("push subscription removed", "recipient_id", removed.RecipientID, "endpoint", endpoint)
	}
	return nil
}
