package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/pkg/validate"
)

const cacheTTL = 10 * time.Minute

// Store is the subset of the preference repository the service uses.
type Store interface {
	Get(ctx context.Context, recipientID string) (*domain.UserNotificationPreference, error)
	Put(ctx context.Context, p *domain.UserNotificationPreference) error
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool
	Del(ctx context.Context, key string) bool
}

type Service interface {
	// Get returns the recipient's preferences, creating the defaults on first read.
	Get(ctx context.Context, recipientID string) (*domain.UserNotificationPreference, error)
	Update(ctx context.Context, recipientID string, req domain.UpdatePreferenceRequest) (*domain.UserNotificationPreference, error)
}

type service struct {
	repo            Store
	cache           Cache
	defaultTimezone string
	defaultMax      int
	logger          *slog.Logger
}

func NewService(repo Store, c Cache, defaultTimezone string, defaultMaxPerDay int, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultMaxPerDay < 0 {
		defaultMaxPerDay = domain.DefaultMaxPerDay
	}
	return &service{repo: repo, cache: c, defaultTimezone: defaultTimezone, defaultMax: defaultMaxPerDay, logger: logger}
}

func (s *service) Get(ctx context.Context, recipientID string) (*domain.UserNotificationPreference, error) {
	key := cache.PreferencesKey(recipientID)
	var cached domain.UserNotificationPreference
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	p, err := s.repo.Get(ctx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		p = domain.DefaultPreference(recipientID, s.defaultTimezone)
		p.MaxPerDay = s.defaultMax
		if err := s.repo.Put(ctx, p); err != nil {
			return nil, fmt.Errorf("store default preferences: %w", err)
		}
		s.logger.Info("default preferences created", "recipient_id", recipientID)
	} else if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, p, cacheTTL)
	return p, nil
}

func (s *service) Update(ctx context.Context, recipientID string, req domain.UpdatePreferenceRequest) (*domain.UserNotificationPreference, error) {
	if err := validate.BadRequest(req); err != nil {
		return nil, err
	}
	seen := make(map[domain.NotificationType]bool, len(req.EnabledTypes))
	types := make([]domain.NotificationType, 0, len(req.EnabledTypes))
	for _, t := range req.EnabledTypes {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	tz := req.Timezone
	if tz == "" {
		tz = s.defaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, domain.ErrBadRequest)
	}

	p := &domain.UserNotificationPreference{
		RecipientID:  recipientID,
		EnabledTypes: types,
		QuietHours:   req.QuietHours,
		MaxPerDay:    *req.MaxPerDay,
		Timezone:     tz,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, p); err != nil {
		return nil, err
	}
	s.cache.Del(ctx, cache.PreferencesKey(recipientID))
	return p, nil
}
