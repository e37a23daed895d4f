package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

type stubDeliveries map[uuid.UUID][]dispatcher.Delivery

func (s stubDeliveries) ListForEvent(_ context.Context, id uuid.UUID) ([]dispatcher.Delivery, error) {
	return s[id], nil
}

func newReplayer(t *testing.T) (*replayer, *eventlog.MemoryStore, *bytes.Buffer) {
	t.Helper()
	store := eventlog.NewMemoryStore(clockwork.NewFakeClock())
	b := payload.NewBuilder(nil, nil, "")
	b.Register(models.DomainEventUserCreated, func(_ context.Context, _ *payload.Builder, ev *models.DomainEvent) ([]payload.Payload, error) {
		return []payload.Payload{{"webhook_event_type": "account_created", "user_id": ev.MainID.String()}}, nil
	})
	b.Register(models.DomainEventPushTokenCreated, func(context.Context, *payload.Builder, *models.DomainEvent) ([]payload.Payload, error) {
		return nil, nil
	})
	b.Register(models.DomainEventOrderCompleted, func(context.Context, *payload.Builder, *models.DomainEvent) ([]payload.Payload, error) {
		return nil, errors.New("order has no items")
	})

	var out bytes.Buffer
	return &replayer{events: store, builder: b, out: &out}, store, &out
}

func appendEvent(t *testing.T, store *eventlog.MemoryStore, eventType models.DomainEventType) *models.DomainEvent {
	t.Helper()
	id := uuid.New()
	ev, err := store.Append(context.Background(), models.NewDomainEvent{EventType: eventType, MainTable: models.TableUsers, MainID: &id})
	require.NoError(t, err)
	return ev
}

func readLines(t *testing.T, out *bytes.Buffer) []line {
	t.Helper()
	var lines []line
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		lines = append(lines, l)
	}
	return lines
}

func TestReplay(t *testing.T) {
	r, store, out := newReplayer(t)
	appendEvent(t, store, models.DomainEventUserCreated)
	user := appendEvent(t, store, models.DomainEventUserCreated)
	appendEvent(t, store, models.DomainEventPushTokenCreated)
	appendEvent(t, store, models.DomainEventOrderCompleted)

	sum, err := r.run(context.Background(), options{after: 1, limit: 10})
	require.NoError(t, err)
	assert.Equal(t, summary{events: 3, payloads: 1, skipped: 1, errors: 1, last: 4}, sum)

	lines := readLines(t, out)
	require.Len(t, lines, 3)

	assert.Equal(t, user.ID, lines[0].EventID)
	require.Len(t, lines[0].Payloads, 1)
	assert.Equal(t, user.MainID.String(), lines[0].Payloads[0]["user_id"])
	assert.Equal(t, user.ID.String(), lines[0].Payloads[0][payload.KeyDomainEventID])

	assert.Empty(t, lines[1].Payloads)
	assert.Empty(t, lines[1].Error)
	assert.Contains(t, lines[2].Error, "order has no items")
}

func TestReplay_SingleEventWithDeliveries(t *testing.T) {
	r, store, out := newReplayer(t)
	appendEvent(t, store, models.DomainEventUserCreated)
	target := appendEvent(t, store, models.DomainEventUserCreated)
	r.deliveries = stubDeliveries{target.ID: {{EventID: target.ID, Channel: "crm", Success: true, Attempts: 1}}}

	sum, err := r.run(context.Background(), options{eventID: &target.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.events)

	lines := readLines(t, out)
	require.Len(t, lines, 1)
	require.Len(t, lines[0].Deliveries, 1)
	assert.Equal(t, "crm", lines[0].Deliveries[0].Channel)
}

func TestReplay_TypeFilter(t *testing.T) {
	r, store, out := newReplayer(t)
	appendEvent(t, store, models.DomainEventUserCreated)
	appendEvent(t, store, models.DomainEventPushTokenCreated)

	only := models.DomainEventPushTokenCreated
	sum, err := r.run(context.Background(), options{limit: 10, eventType: &only})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.events)
	assert.Len(t, readLines(t, out), 1)
}
