package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

// MemoryStore is an in-process Store. Claims are emulated with a claimed set
// that is checked and updated under one lock, so concurrent claimants skip
// each other's rows the same way SKIP LOCKED does.
type MemoryStore struct {
	clock clockwork.Clock

	mu      sync.Mutex
	events  []models.DomainEvent
	claimed map[int64]struct{}
	nextSeq int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		claimed: make(map[int64]struct{}),
	}
}

// Append assigns the next sequence and stores the event.
func (s *MemoryStore) Append(_ context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	if err := validate(e); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	event := models.DomainEvent{
		ID:             uuid.New(),
		Sequence:       s.nextSeq,
		EventType:      e.EventType,
		DisplayText:    e.DisplayText,
		MainTable:      e.MainTable,
		MainID:         e.MainID,
		ActorUserID:    e.ActorUserID,
		OrganizationID: e.OrganizationID,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if len(e.PayloadData) > 0 {
		event.PayloadData.RawMessage = append([]byte(nil), e.PayloadData...)
		event.PayloadData.Valid = true
	}
	s.events = append(s.events, event)
	return &event, nil
}

func (s *MemoryStore) Claim(_ context.Context, after int64, limit int) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []models.DomainEvent
	for _, e := range s.events {
		if len(batch) >= limit {
			break
		}
		if e.Sequence <= after {
			continue
		}
		if _, taken := s.claimed[e.Sequence]; taken {
			continue
		}
		s.claimed[e.Sequence] = struct{}{}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return emptyClaim{}, nil
	}
	return &memClaim{store: s, events: batch}, nil
}

func (s *MemoryStore) release(events []models.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		delete(s.claimed, e.Sequence)
	}
}

func (s *MemoryStore) FindAfterSequence(_ context.Context, after int64, limit int) ([]models.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.DomainEvent
	for _, e := range s.events {
		if e.Sequence > after && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByIDs(_ context.Context, ids []uuid.UUID) ([]models.DomainEvent, error) {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	var out []models.DomainEvent
	for _, e := range s.events {
		if _, ok := want[e.ID]; ok {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) FindByMainEntity(_ context.Context, table models.Table, id *uuid.UUID, eventType *models.DomainEventType) ([]models.DomainEvent, error) {
	s.mu.Lock()
	var out []models.DomainEvent
	for _, e := range s.events {
		if e.MainTable != table || !sameID(e.MainID, id) {
			continue
		}
		if eventType != nil && e.EventType != *eventType {
			continue
		}
		out = append(out, e)
	}
	s.mu.Unlock()

	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) CountAfterSequence(_ context.Context, after int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.events {
		if e.Sequence > after {
			n++
		}
	}
	return n, nil
}

type memClaim struct {
	store  *MemoryStore
	events []models.DomainEvent
	once   sync.Once
}

func (c *memClaim) Events() []models.DomainEvent { return c.events }

func (c *memClaim) Commit() error {
	c.once.Do(func() { c.store.release(c.events) })
	return nil
}

func (c *memClaim) Rollback() error {
	c.once.Do(func() { c.store.release(c.events) })
	return nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortByCreated(events []models.DomainEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].Sequence < events[j].Sequence
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
