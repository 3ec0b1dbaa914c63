package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrSubscriptionGone marks a push endpoint the provider will never accept again.
	ErrSubscriptionGone = errors.New("push subscription gone")
)

// DeliveryError is an adapter failure. It is recorded on the notification and
// never returned to the dispatch caller.
type DeliveryError struct {
	Channel  string
	Endpoint string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s delivery to %s: %v", e.Channel, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
