package payload

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

var (
	ErrUnsupportedEventType = errors.New("domain event type not supported")
	ErrMissingMainID        = errors.New("domain event has no main id")
)

// Identity keys stamped onto every dispatched payload.
const (
	KeyDomainEventID   = "domain_event_id"
	KeyDomainEventType = "domain_event_type"
	KeySequence        = "domain_event_seq"
)

// Payload is one materialized message handed to the channels.
type Payload map[string]any

// Stamp returns a copy carrying the identity of the event it was built from.
func (p Payload) Stamp(event *models.DomainEvent) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	out[KeyDomainEventID] = event.ID.String()
	out[KeyDomainEventType] = string(event.EventType)
	out[KeySequence] = event.Sequence
	return out
}

// WebhookEventType returns the payload's webhook_event_type, or "".
func (p Payload) WebhookEventType() string {
	s, _ := p.String("webhook_event_type")
	return s
}

// String returns a string field. Other JSON-compatible scalars are formatted.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case *string:
		if val == nil {
			return "", false
		}
		return *val, true
	case *uuid.UUID:
		if val == nil {
			return "", false
		}
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	return maps.Clone(p)
}

// BuildFunc expands one event into zero or more payloads.
type BuildFunc func(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error)

// ReceiveLinker produces the receive URL embedded in recipient payloads.
type ReceiveLinker interface {
	ReceiveURL(ctx context.Context, t *models.Transfer, frontEndURL string) (string, error)
}

// Builder is a registry of per event type payload builders.
type Builder struct {
	reader      Reader
	links       ReceiveLinker
	frontEndURL string
	builders    map[models.DomainEventType]BuildFunc
}

// NewBuilder creates a Builder with the account, order and transfer builders registered.
func NewBuilder(reader Reader, links ReceiveLinker, frontEndURL string) *Builder {
	b := &Builder{
		reader:      reader,
		links:       links,
		frontEndURL: frontEndURL,
		builders:    make(map[models.DomainEventType]BuildFunc),
	}

	b.Register(models.DomainEventUserCreated, buildUserCreated)
	b.Register(models.DomainEventTemporaryUserCreated, buildTemporaryUserCreated)
	b.Register(models.DomainEventPushTokenCreated, buildPushTokenCreated)

	b.Register(models.DomainEventOrderCompleted, buildOrderCompleted)
	b.Register(models.DomainEventOrderRefund, buildOrderRefund)
	b.Register(models.DomainEventOrderResendConfirmationTriggered, buildOrderResendConfirmation)

	b.Register(models.DomainEventTransferTicketStarted, buildTransfer)
	b.Register(models.DomainEventTransferTicketCancelled, buildTransfer)
	b.Register(models.DomainEventTransferTicketCompleted, buildTransfer)
	return b
}

// Register adds or replaces the builder for an event type.
func (b *Builder) Register(eventType models.DomainEventType, fn BuildFunc) {
	b.builders[eventType] = fn
}

// Supports reports whether eventType has a registered builder.
func (b *Builder) Supports(eventType models.DomainEventType) bool {
	_, ok := b.builders[eventType]
	return ok
}

// SupportedTypes lists the registered event types in sorted order.
func (b *Builder) SupportedTypes() []models.DomainEventType {
	types := slices.Collect(maps.Keys(b.builders))
	slices.Sort(types)
	return types
}

// Build materializes the payloads for event. A nil slice with a nil error
// means the event was intentionally skipped.
func (b *Builder) Build(ctx context.Context, event *models.DomainEvent) ([]Payload, error) {
	fn, ok := b.builders[event.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventType, event.EventType)
	}
	if event.MainID == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrMissingMainID, event.EventType, event.ID)
	}
	payloads, err := fn(ctx, b, event)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s payload for event %s: %w", event.EventType, event.ID, err)
	}
	return payloads, nil
}

// nullable flattens an optional string so missing values encode as null.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func timestamp(event *models.DomainEvent) int64 {
	return event.CreatedAt.Unix()
}
