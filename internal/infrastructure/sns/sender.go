// Package sns delivers push payloads to mobile devices through AWS SNS
// platform application endpoints.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-api-notify/internal/domain"
)

// Publisher is the subset of the SNS client the sender uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender publishes one message per call to an SNS endpoint ARN.
type Sender struct {
	client Publisher
}

func NewSender(awsCfg aws.Config, endpointURL string) *Sender {
	var opts []func(*sns.Options)
	if endpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return &Sender{client: sns.NewFromConfig(awsCfg, opts...)}
}

// NewSenderWithClient is used by tests to inject a fake publisher.
func NewSenderWithClient(client Publisher) *Sender {
	return &Sender{client: client}
}

// Accepts reports whether endpoint is an SNS platform endpoint ARN.
func (s *Sender) Accepts(endpoint string) bool {
	return strings.HasPrefix(endpoint, "arn:")
}

// Send publishes payload to the endpoint ARN. A disabled or deleted endpoint
// is reported as ErrSubscriptionGone.
func (s *Sender) Send(ctx context.Context, sub *domain.PushSubscription, payload []byte, _ domain.Priority) error {
	msg, err := platformMessage(payload)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(sub.Endpoint),
		Message:          aws.String(msg),
		MessageStructure: aws.String("json"),
	})
	if err == nil {
		return nil
	}
	var disabled *types.EndpointDisabledException
	var notFound *types.NotFoundException
	if errors.As(err, &disabled) || errors.As(err, &notFound) {
		return fmt.Errorf("sns endpoint %s: %w", sub.Endpoint, domain.ErrSubscriptionGone)
	}
	return fmt.Errorf("sns publish: %w", err)
}

// platformMessage wraps payload in the per-platform envelope SNS expects when
// MessageStructure is json.
func platformMessage(payload []byte) (string, error) {
	gcm, err := json.Marshal(map[string]json.RawMessage{"data": payload})
	if err != nil {
		return "", fmt.Errorf("encode gcm message: %w", err)
	}
	apns, err := json.Marshal(map[string]json.RawMessage{"aps": json.RawMessage(`{"content-available":1}`), "data": payload})
	if err != nil {
		return "", fmt.Errorf("encode apns message: %w", err)
	}
	msg, err := json.Marshal(map[string]string{
		"default":      string(payload),
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", fmt.Errorf("encode sns message: %w", err)
	}
	return string(msg), nil
}
