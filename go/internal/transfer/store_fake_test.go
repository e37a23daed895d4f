package transfer

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/wallets"
)

// fakeStore serializes transactions with one lock and restores a snapshot on
// error, which is enough to exercise the row lock and rollback semantics.
type fakeStore struct {
	mu sync.Mutex

	transfers       map[uuid.UUID]models.Transfer
	ticketInstances map[uuid.UUID]bool
	transferTickets []models.TransferTicket
	wallets         map[uuid.UUID]models.Wallet
	tempUsers       map[uuid.UUID]models.TemporaryUser
	transferEvents  map[uuid.UUID][]models.Event
	orders          map[uuid.UUID]models.Order
	ticketOrders    map[uuid.UUID]uuid.UUID
	orderTransfers  []orderTransfer
	events          []models.NewDomainEvent
}

type orderTransfer struct {
	orderID, transferID uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transfers:       make(map[uuid.UUID]models.Transfer),
		ticketInstances: make(map[uuid.UUID]bool),
		wallets:         make(map[uuid.UUID]models.Wallet),
		tempUsers:       make(map[uuid.UUID]models.TemporaryUser),
		transferEvents:  make(map[uuid.UUID][]models.Event),
		orders:          make(map[uuid.UUID]models.Order),
		ticketOrders:    make(map[uuid.UUID]uuid.UUID),
	}
}

type fakeSnapshot struct {
	transfers       map[uuid.UUID]models.Transfer
	transferTickets []models.TransferTicket
	tempUsers       map[uuid.UUID]models.TemporaryUser
	orderTransfers  []orderTransfer
	events          []models.NewDomainEvent
}

func (s *fakeStore) snapshot() fakeSnapshot {
	return fakeSnapshot{
		transfers:       maps.Clone(s.transfers),
		transferTickets: slices.Clone(s.transferTickets),
		tempUsers:       maps.Clone(s.tempUsers),
		orderTransfers:  slices.Clone(s.orderTransfers),
		events:          slices.Clone(s.events),
	}
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.transfers = snap.transfers
	s.transferTickets = snap.transferTickets
	s.tempUsers = snap.tempUsers
	s.orderTransfers = snap.orderTransfers
	s.events = snap.events
}

func (s *fakeStore) Queries() Queries {
	return &fakeQueries{s: s}
}

func (s *fakeStore) InTx(_ context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&fakeQueries{s: s, inTx: true}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) addTicket() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.ticketInstances[id] = true
	return id
}

// addPurchasedTicket adds a ticket bought in the given order.
func (s *fakeStore) addPurchasedTicket(o models.Order) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.ticketInstances[id] = true
	s.orders[o.ID] = o
	s.ticketOrders[id] = o.ID
	return id
}

func (s *fakeStore) addWallet(w models.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.UserID] = w
}

func (s *fakeStore) eventsOfType(t models.DomainEventType) []models.NewDomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NewDomainEvent
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeQueries struct {
	s    *fakeStore
	inTx bool
}

func (q *fakeQueries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func (q *fakeQueries) InsertTransfer(_ context.Context, t *models.Transfer) error {
	defer q.lock()()
	for _, existing := range q.s.transfers {
		if existing.TransferKey == t.TransferKey {
			return ErrDuplicateTransferKey
		}
	}
	q.s.transfers[t.ID] = *t
	return nil
}

func (q *fakeQueries) GetTransfer(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	defer q.lock()()
	t, ok := q.s.transfers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (q *fakeQueries) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return q.GetTransfer(ctx, id)
}

func (q *fakeQueries) GetTransferByKey(_ context.Context, key uuid.UUID) (*models.Transfer, error) {
	defer q.lock()()
	for _, t := range q.s.transfers {
		if t.TransferKey == key {
			return &t, nil
		}
	}
	return nil, models.ErrNotFound
}

func (q *fakeQueries) UpdateTransferStatus(_ context.Context, t *models.Transfer) error {
	defer q.lock()()
	q.s.transfers[t.ID] = *t
	return nil
}

func (q *fakeQueries) LockTicketInstance(_ context.Context, id uuid.UUID) error {
	defer q.lock()()
	if !q.s.ticketInstances[id] {
		return models.ErrNotFound
	}
	return nil
}

func (q *fakeQueries) PendingTransferIDsForTicket(_ context.Context, ticketID uuid.UUID) ([]uuid.UUID, error) {
	defer q.lock()()
	var ids []uuid.UUID
	for _, tt := range q.s.transferTickets {
		if tt.TicketInstanceID == ticketID && q.s.transfers[tt.TransferID].Status == models.TransferStatusPending {
			ids = append(ids, tt.TransferID)
		}
	}
	return ids, nil
}

func (q *fakeQueries) InsertTransferTicket(_ context.Context, tt models.TransferTicket) error {
	defer q.lock()()
	for _, existing := range q.s.transferTickets {
		if existing.TransferID == tt.TransferID && existing.TicketInstanceID == tt.TicketInstanceID {
			return nil
		}
	}
	q.s.transferTickets = append(q.s.transferTickets, tt)
	return nil
}

func (q *fakeQueries) CountTransferTickets(_ context.Context, transferID uuid.UUID) (int64, error) {
	defer q.lock()()
	var n int64
	for _, tt := range q.s.transferTickets {
		if tt.TransferID == transferID {
			n++
		}
	}
	return n, nil
}

func (q *fakeQueries) ListTransferTickets(_ context.Context, transferID uuid.UUID) ([]models.TransferTicket, error) {
	defer q.lock()()
	var out []models.TransferTicket
	for _, tt := range q.s.transferTickets {
		if tt.TransferID == transferID {
			out = append(out, tt)
		}
	}
	return out, nil
}

func (q *fakeQueries) LinkTransferOrders(_ context.Context, transferID uuid.UUID) error {
	defer q.lock()()
	for _, tt := range q.s.transferTickets {
		orderID, ok := q.s.ticketOrders[tt.TicketInstanceID]
		if tt.TransferID != transferID || !ok {
			continue
		}
		link := orderTransfer{orderID: orderID, transferID: transferID}
		if !slices.Contains(q.s.orderTransfers, link) {
			q.s.orderTransfers = append(q.s.orderTransfers, link)
		}
	}
	return nil
}

func (q *fakeQueries) ListTransferOrders(_ context.Context, transferID uuid.UUID) ([]models.Order, error) {
	defer q.lock()()
	var out []models.Order
	for _, link := range q.s.orderTransfers {
		if link.transferID == transferID {
			out = append(out, q.s.orders[link.orderID])
		}
	}
	return out, nil
}

func (q *fakeQueries) FindTransfersForUser(_ context.Context, req FindForUserRequest) ([]models.Transfer, int64, error) {
	defer q.lock()()
	var matched []models.Transfer
	for _, t := range q.s.transfers {
		user := &t.SourceUserID
		if req.Direction == DirectionDestination {
			user = t.DestinationUserID
		}
		switch {
		case user == nil || *user != req.UserID:
			continue
		case req.OrderID != nil && !slices.Contains(q.s.orderTransfers, orderTransfer{orderID: *req.OrderID, transferID: t.ID}):
			continue
		case req.Start != nil && t.CreatedAt.Before(*req.Start):
			continue
		case req.End != nil && t.CreatedAt.After(*req.End):
			continue
		}
		matched = append(matched, t)
	}
	slices.SortFunc(matched, func(a, b models.Transfer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	total := int64(len(matched))
	from := min(req.Page*req.Limit, len(matched))
	to := min(from+req.Limit, len(matched))
	return matched[from:to], total, nil
}

func (q *fakeQueries) ListPending(_ context.Context) ([]models.Transfer, error) {
	defer q.lock()()
	var out []models.Transfer
	for _, t := range q.s.transfers {
		if t.Status == models.TransferStatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q *fakeQueries) ListPendingByTicketInstanceIDs(_ context.Context, ids []uuid.UUID) ([]models.Transfer, error) {
	defer q.lock()()
	seen := make(map[uuid.UUID]bool)
	var out []models.Transfer
	for _, tt := range q.s.transferTickets {
		t := q.s.transfers[tt.TransferID]
		if slices.Contains(ids, tt.TicketInstanceID) && t.Status == models.TransferStatusPending && !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (q *fakeQueries) ListTransferEvents(_ context.Context, transferID uuid.UUID) ([]models.Event, error) {
	defer q.lock()()
	return q.s.transferEvents[transferID], nil
}

func (q *fakeQueries) FindDefaultWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	defer q.lock()()
	w, ok := q.s.wallets[userID]
	if !ok {
		return nil, wallets.ErrNoDefaultWallet
	}
	return &w, nil
}

func (q *fakeQueries) FindOrCreateTemporaryUser(_ context.Context, tu models.TemporaryUser) (bool, error) {
	defer q.lock()()
	if _, ok := q.s.tempUsers[tu.ID]; ok {
		return false, nil
	}
	q.s.tempUsers[tu.ID] = tu
	return true, nil
}

func (q *fakeQueries) AppendEvent(_ context.Context, e models.NewDomainEvent) (*models.DomainEvent, error) {
	defer q.lock()()
	q.s.events = append(q.s.events, e)
	return &models.DomainEvent{
		ID:        uuid.New(),
		Sequence:  int64(len(q.s.events)),
		EventType: e.EventType,
		MainTable: e.MainTable,
		MainID:    e.MainID,
	}, nil
}
