package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/sqlutil"
)

// Delivery is the outcome of sending one payload to one destination.
type Delivery struct {
	ID               uuid.UUID `json:"id" db:"id"`
	EventID          uuid.UUID `json:"domain_event_id" db:"domain_event_id"`
	Sequence         int64     `json:"seq" db:"seq"`
	Dispatcher       string    `json:"dispatcher" db:"dispatcher"`
	Channel          string    `json:"channel" db:"channel"`
	Destination      string    `json:"destination" db:"destination"`
	WebhookEventType string    `json:"webhook_event_type" db:"webhook_event_type"`
	PayloadIndex     int       `json:"payload_index" db:"payload_index"`
	Success          bool      `json:"success" db:"success"`
	Permanent        bool      `json:"permanent" db:"permanent"`
	Attempts         int       `json:"attempts" db:"attempts"`
	Error            *string   `json:"error" db:"error"`
	AttemptedAt      time.Time `json:"attempted_at" db:"attempted_at"`
}

func (d Delivery) key() DeliveryKey {
	return DeliveryKey{
		EventID:          d.EventID,
		Dispatcher:       d.Dispatcher,
		Channel:          d.Channel,
		Destination:      d.Destination,
		WebhookEventType: d.WebhookEventType,
		PayloadIndex:     d.PayloadIndex,
	}
}

// DeliveryKey identifies one payload variant for one destination.
// PayloadIndex is the payload's position in the event's build output, so
// forks sharing a webhook event type stay distinct.
type DeliveryKey struct {
	EventID          uuid.UUID
	Dispatcher       string
	Channel          string
	Destination      string
	WebhookEventType string
	PayloadIndex     int
}

// Recorder keeps per destination delivery outcomes. A delivery is settled
// once it succeeded or failed permanently; settled deliveries are not
// repeated when the rest of their event is retried.
type Recorder interface {
	Record(ctx context.Context, d Delivery) error
	Settled(ctx context.Context, key DeliveryKey) (bool, error)
}

// PostgresRecorder writes to domain_event_deliveries.
type PostgresRecorder struct {
	db sqlutil.DBTX
}

func NewPostgresRecorder(db sqlutil.DBTX) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Record(ctx context.Context, d Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domain_event_deliveries (
			id, domain_event_id, seq, dispatcher, channel, destination,
			webhook_event_type, payload_index, success, permanent, attempts, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.EventID, d.Sequence, d.Dispatcher, d.Channel, d.Destination,
		d.WebhookEventType, d.PayloadIndex, d.Success, d.Permanent, d.Attempts, d.Error, d.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record delivery of event %s: %w", d.EventID, sqlutil.HandlePGError(err))
	}
	return nil
}

func (r *PostgresRecorder) Settled(ctx context.Context, key DeliveryKey) (bool, error) {
	var settled bool
	err := r.db.GetContext(ctx, &settled, `
		SELECT EXISTS (
			SELECT 1 FROM domain_event_deliveries
			WHERE domain_event_id = $1 AND dispatcher = $2 AND channel = $3
			  AND destination = $4 AND webhook_event_type = $5 AND payload_index = $6
			  AND (success OR permanent)
		)`,
		key.EventID, key.Dispatcher, key.Channel, key.Destination, key.WebhookEventType, key.PayloadIndex)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery of event %s: %w", key.EventID, sqlutil.HandlePGError(err))
	}
	return settled, nil
}

// ListForEvent returns every attempt recorded for an event, oldest first.
func (r *PostgresRecorder) ListForEvent(ctx context.Context, eventID uuid.UUID) ([]Delivery, error) {
	var out []Delivery
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, domain_event_id, seq, dispatcher, channel, destination,
		       webhook_event_type, payload_index, success, permanent, attempts, error, attempted_at
		FROM domain_event_deliveries
		WHERE domain_event_id = $1
		ORDER BY attempted_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries of event %s: %w", eventID, sqlutil.HandlePGError(err))
	}
	return out, nil
}

// MemoryRecorder keeps deliveries in process.
type MemoryRecorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	settled    map[DeliveryKey]bool
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{settled: make(map[DeliveryKey]bool)}
}

func (r *MemoryRecorder) Record(_ context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.deliveries = append(r.deliveries, d)
	if d.Success || d.Permanent {
		r.settled[d.key()] = true
	}
	return nil
}

func (r *MemoryRecorder) Settled(_ context.Context, key DeliveryKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled[key], nil
}

// Deliveries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}
