// Package webpush delivers payloads to standard Web Push endpoints signed with VAPID.
package webpush

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpushlib "github.com/SherClockHolmes/webpush-go"
	"github.com/go-api-notify/internal/config"
	"github.com/go-api-notify/internal/domain"
)

// Sender sends one Web Push message per call. It never retries.
type Sender struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	httpClient *http.Client
}

func NewSender(cfg *config.Config) (*Sender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("vapid keys not configured")
	}
	return &Sender{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.VAPIDSubscriber,
		ttl:        cfg.PushTTLSeconds,
		httpClient: &http.Client{},
	}, nil
}

// Accepts reports whether endpoint is a Web Push URL. Push services are
// always served over TLS; plain http endpoints are refused.
func (s *Sender) Accepts(endpoint string) bool {
	return strings.HasPrefix(endpoint, "https://")
}

// Send posts payload to the subscription endpoint. A 404 or 410 reply means
// the browser dropped the subscription and is reported as ErrSubscriptionGone.
func (s *Sender) Send(ctx context.Context, sub *domain.PushSubscription, payload []byte, priority domain.Priority) error {
	resp, err := webpushlib.SendNotificationWithContext(ctx, payload, &webpushlib.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushlib.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpushlib.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
		Urgency:         urgency(priority),
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("web push status %d: %w", resp.StatusCode, domain.ErrSubscriptionGone)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("web push status %d", resp.StatusCode)
	}
	return nil
}

func urgency(p domain.Priority) webpushlib.Urgency {
	switch p {
	case domain.PriorityUrgent:
		return webpushlib.UrgencyHigh
	case domain.PriorityHigh:
		return webpushlib.UrgencyNormal
	case domain.PriorityLow:
		return webpushlib.UrgencyVeryLow
	default:
		return webpushlib.UrgencyLow
	}
}
