package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// ErrPermanent marks a delivery that will fail the same way on every retry.
var ErrPermanent = errors.New("permanent delivery failure")

// Channel delivers payloads to one kind of consumer.
type Channel interface {
	Name() string
	Send(ctx context.Context, destinations []string, p payload.Payload) error
}

// Closer is implemented by channels holding connections.
type Closer interface {
	Close() error
}

// Envelope is the wire shape used by the message bus channels.
type Envelope struct {
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	WebhookEventType string          `json:"webhookEventType"`
	Sequence         int64           `json:"sequence"`
	Timestamp        time.Time       `json:"timestamp"`
	Payload          payload.Payload `json:"payload"`
}

// NewEnvelope wraps p using the identity keys stamped by the dispatcher.
func NewEnvelope(p payload.Payload, now time.Time) Envelope {
	env := Envelope{
		WebhookEventType: p.WebhookEventType(),
		Timestamp:        now.UTC(),
		Payload:          p,
	}
	env.EventID, _ = p.String(payload.KeyDomainEventID)
	env.EventType, _ = p.String(payload.KeyDomainEventType)
	if seq, ok := p[payload.KeySequence].(int64); ok {
		env.Sequence = seq
	}
	return env
}

// dedupeID identifies one delivery of one payload so brokers can drop replays.
func dedupeID(env Envelope, destination string) string {
	return fmt.Sprintf("%s:%s:%s", env.EventID, env.WebhookEventType, destination)
}

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
