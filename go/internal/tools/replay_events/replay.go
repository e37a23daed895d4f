package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

type eventSource interface {
	FindAfterSequence(ctx context.Context, after int64, limit int) ([]models.DomainEvent, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.DomainEvent, error)
}

type deliveryLister interface {
	ListForEvent(ctx context.Context, eventID uuid.UUID) ([]dispatcher.Delivery, error)
}

type options struct {
	after     int64
	limit     int
	eventType *models.DomainEventType
	eventID   *uuid.UUID
}

type summary struct {
	events   int
	payloads int
	skipped  int
	errors   int
	last     int64
}

type line struct {
	Sequence   int64                 `json:"seq"`
	EventID    uuid.UUID             `json:"event_id"`
	EventType  string                `json:"event_type"`
	Payloads   []payload.Payload     `json:"payloads"`
	Error      string                `json:"error,omitempty"`
	Deliveries []dispatcher.Delivery `json:"deliveries,omitempty"`
}

type replayer struct {
	events     eventSource
	builder    *payload.Builder
	deliveries deliveryLister
	out        io.Writer
}

// run writes one line per event. Build failures are reported inline so one
// bad event does not hide the rest.
func (r *replayer) run(ctx context.Context, opts options) (summary, error) {
	var sum summary

	var events []models.DomainEvent
	var err error
	if opts.eventID != nil {
		events, err = r.events.FindByIDs(ctx, []uuid.UUID{*opts.eventID})
	} else {
		events, err = r.events.FindAfterSequence(ctx, opts.after, opts.limit)
	}
	if err != nil {
		return sum, fmt.Errorf("failed to load events: %w", err)
	}

	enc := json.NewEncoder(r.out)
	for i := range events {
		ev := &events[i]
		if opts.eventType != nil && ev.EventType != *opts.eventType {
			continue
		}
		sum.events++
		sum.last = max(sum.last, ev.Sequence)

		out := line{
			Sequence:  ev.Sequence,
			EventID:   ev.ID,
			EventType: string(ev.EventType),
			Payloads:  []payload.Payload{},
		}
		payloads, err := r.builder.Build(ctx, ev)
		switch {
		case err != nil:
			sum.errors++
			out.Error = err.Error()
		case len(payloads) == 0:
			sum.skipped++
		default:
			for _, p := range payloads {
				out.Payloads = append(out.Payloads, p.Stamp(ev))
			}
			sum.payloads += len(payloads)
		}

		if r.deliveries != nil {
			out.Deliveries, err = r.deliveries.ListForEvent(ctx, ev.ID)
			if err != nil {
				return sum, err
			}
		}
		if err := enc.Encode(out); err != nil {
			return sum, fmt.Errorf("failed to write output: %w", err)
		}
	}
	return sum, nil
}
