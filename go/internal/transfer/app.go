package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/signature"
)

const defaultPageLimit = 100

// App owns the transfer lifecycle
type App struct {
	store Store
	clock clockwork.Clock
}

// NewApp creates a new transfer App
func NewApp(store Store, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{store: store, clock: clock}
}

// Create stores a new Pending transfer without tickets.
func (a *App) Create(ctx context.Context, req CreateTransferRequest) (*models.Transfer, error) {
	if err := a.validateCreateRequest(req); err != nil {
		return nil, err
	}

	var t *models.Transfer
	err := a.store.InTx(ctx, func(q Queries) error {
		var err error
		t, err = a.create(ctx, q, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Initiate creates the transfer, attaches its tickets and records
// TransferTicketStarted in one transaction.
func (a *App) Initiate(ctx context.Context, req InitiateTransferRequest) (*models.Transfer, error) {
	if err := a.validateCreateRequest(req.CreateTransferRequest); err != nil {
		return nil, err
	}
	if len(req.TicketInstanceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one ticket is required", ErrInvalidRequest)
	}

	var t *models.Transfer
	err := a.store.InTx(ctx, func(q Queries) error {
		var err error
		if t, err = a.create(ctx, q, req.CreateTransferRequest); err != nil {
			return err
		}
		for _, ticketID := range req.TicketInstanceIDs {
			if err := a.addTicket(ctx, q, t, ticketID); err != nil {
				return err
			}
		}
		if err := q.LinkTransferOrders(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to link transfer orders: %w", err)
		}
		data, err := json.Marshal(map[string]interface{}{"ticket_instance_ids": req.TicketInstanceIDs})
		if err != nil {
			return err
		}
		_, err = q.AppendEvent(ctx, models.NewDomainEvent{
			EventType:   models.DomainEventTransferTicketStarted,
			DisplayText: "Transfer started",
			PayloadData: data,
			MainTable:   models.TableTransfers,
			MainID:      &t.ID,
			ActorUserID: &t.SourceUserID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transfer_id", t.ID.String()).
		Str("source_user_id", t.SourceUserID.String()).
		Int("tickets", len(req.TicketInstanceIDs)).
		Msg("transfer initiated")
	return t, nil
}

// AddTransferTicket binds a ticket to a pending transfer. Re-adding the same
// pair is a no-op.
func (a *App) AddTransferTicket(ctx context.Context, transferID, ticketInstanceID uuid.UUID) error {
	return a.store.InTx(ctx, func(q Queries) error {
		t, err := q.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return fmt.Errorf("failed to get transfer: %w", err)
		}
		if err := a.addTicket(ctx, q, t, ticketInstanceID); err != nil {
			return err
		}
		if err := q.LinkTransferOrders(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to link transfer orders: %w", err)
		}
		return nil
	})
}

// Cancel moves a pending transfer to Cancelled.
func (a *App) Cancel(ctx context.Context, transferID, cancellingUserID uuid.UUID, reason *string) (*models.Transfer, error) {
	var t *models.Transfer
	err := a.store.InTx(ctx, func(q Queries) error {
		var err error
		t, err = a.transition(ctx, q, transferID, models.TransferStatusCancelled, cancellingUserID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transfer_id", t.ID.String()).
		Str("cancelled_by", cancellingUserID.String()).
		Bool("by_sender", t.CancelledBySender()).
		Msg("transfer cancelled")
	return t, nil
}

// Complete moves a pending transfer to Completed with the receiving user.
func (a *App) Complete(ctx context.Context, transferID, destinationUserID uuid.UUID, reason *string) (*models.Transfer, error) {
	var t *models.Transfer
	err := a.store.InTx(ctx, func(q Queries) error {
		var err error
		t, err = a.transition(ctx, q, transferID, models.TransferStatusCompleted, destinationUserID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transfer_id", t.ID.String()).
		Str("destination_user_id", destinationUserID.String()).
		Msg("transfer completed")
	return t, nil
}

// Receive verifies a presented authorization and completes the transfer for
// the receiving user in the same transaction.
func (a *App) Receive(ctx context.Context, auth models.TransferAuthorization, receiverID uuid.UUID) (*models.Transfer, error) {
	var t *models.Transfer
	err := a.store.InTx(ctx, func(q Queries) error {
		found, err := a.verify(ctx, q, auth)
		if err != nil {
			return err
		}
		t, err = a.transition(ctx, q, found.ID, models.TransferStatusCompleted, receiverID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// VerifyAuthorization checks auth against the sender's default public key and
// the live ticket count.
func (a *App) VerifyAuthorization(ctx context.Context, auth models.TransferAuthorization) (*models.Transfer, error) {
	return a.verify(ctx, a.store.Queries(), auth)
}

// TicketCount returns the number of tickets attached right now.
func (a *App) TicketCount(ctx context.Context, t *models.Transfer) (int64, error) {
	count, err := a.store.Queries().CountTransferTickets(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfer tickets: %w", err)
	}
	return count, nil
}

// Signature signs the transfer's current state with the sender's default wallet.
func (a *App) Signature(ctx context.Context, t *models.Transfer) (string, error) {
	_, sig, err := a.sign(ctx, a.store.Queries(), t)
	return sig, err
}

// ReceiveURL builds the link a recipient opens to claim the transfer. It is
// recomputed on every call.
func (a *App) ReceiveURL(ctx context.Context, t *models.Transfer, frontEndURL string) (string, error) {
	count, sig, err := a.sign(ctx, a.store.Queries(), t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"%s/tickets/transfers/receive?sender_user_id=%s&transfer_key=%s&num_tickets=%d&signature=%s",
		frontEndURL, t.SourceUserID, t.TransferKey, count, sig,
	), nil
}

// IntoAuthorization returns the structured form of the receive URL.
func (a *App) IntoAuthorization(ctx context.Context, t *models.Transfer) (*models.TransferAuthorization, error) {
	count, sig, err := a.sign(ctx, a.store.Queries(), t)
	if err != nil {
		return nil, err
	}
	return &models.TransferAuthorization{
		TransferKey:  t.TransferKey,
		SenderUserID: t.SourceUserID,
		NumTickets:   count,
		Signature:    sig,
	}, nil
}

// EventsHaveNotEnded reports whether every event the transferred tickets are for is still upcoming or running.
func (a *App) EventsHaveNotEnded(ctx context.Context, t *models.Transfer) (bool, error) {
	events, err := a.store.Queries().ListTransferEvents(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list transfer events: %w", err)
	}
	now := a.clock.Now()
	for _, e := range events {
		if e.EventEnd != nil && e.EventEnd.Before(now) {
			return false, nil
		}
	}
	return true, nil
}

// Find retrieves a transfer by ID
func (a *App) Find(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	t, err := a.store.Queries().GetTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// FindByTransferKey retrieves a transfer by its client facing key
func (a *App) FindByTransferKey(ctx context.Context, key uuid.UUID) (*models.Transfer, error) {
	t, err := a.store.Queries().GetTransferByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer by key: %w", err)
	}
	return t, nil
}

// FindPending lists every pending transfer
func (a *App) FindPending(ctx context.Context) ([]models.Transfer, error) {
	transfers, err := a.store.Queries().ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transfers: %w", err)
	}
	return transfers, nil
}

// FindPendingByTicketInstanceIDs lists pending transfers holding any of the tickets
func (a *App) FindPendingByTicketInstanceIDs(ctx context.Context, ticketInstanceIDs []uuid.UUID) ([]models.Transfer, error) {
	if len(ticketInstanceIDs) == 0 {
		return nil, nil
	}
	transfers, err := a.store.Queries().ListPendingByTicketInstanceIDs(ctx, ticketInstanceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transfers by ticket: %w", err)
	}
	return transfers, nil
}

// ListTransferTickets returns the tickets attached to a transfer, oldest first.
func (a *App) ListTransferTickets(ctx context.Context, transferID uuid.UUID) ([]models.TransferTicket, error) {
	tickets, err := a.store.Queries().ListTransferTickets(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer tickets: %w", err)
	}
	return tickets, nil
}

// Orders returns the orders the transferred tickets were bought in.
func (a *App) Orders(ctx context.Context, transferID uuid.UUID) ([]models.Order, error) {
	orders, err := a.store.Queries().ListTransferOrders(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer orders: %w", err)
	}
	return orders, nil
}

// ForDisplay adds the ticket and event ids a transfer covers.
func (a *App) ForDisplay(ctx context.Context, t *models.Transfer) (*models.DisplayTransfer, error) {
	return a.forDisplay(ctx, a.store.Queries(), t)
}

// FindForUser pages through the transfers a user sent or received.
func (a *App) FindForUser(ctx context.Context, req FindForUserRequest) (*TransferPage, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	switch req.Direction {
	case DirectionSource, DirectionDestination:
	case "":
		req.Direction = DirectionSource
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidRequest, req.Direction)
	}
	if req.Limit <= 0 {
		req.Limit = defaultPageLimit
	}
	req.Page = max(req.Page, 0)

	q := a.store.Queries()
	transfers, total, err := q.FindTransfersForUser(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to find transfers for user: %w", err)
	}

	page := &TransferPage{
		Data:  make([]models.DisplayTransfer, 0, len(transfers)),
		Page:  req.Page,
		Limit: req.Limit,
		Total: total,
	}
	for i := range transfers {
		d, err := a.forDisplay(ctx, q, &transfers[i])
		if err != nil {
			return nil, err
		}
		page.Data = append(page.Data, *d)
	}
	return page, nil
}

// SenderName is how a sender is shown to a recipient, e.g. "Bob M.".
func SenderName(u *models.User) string {
	if u == nil {
		return "another user"
	}
	first := trimmed(u.FirstName)
	last := trimmed(u.LastName)
	switch {
	case first != "" && last != "":
		return fmt.Sprintf("%s %s.", first, string([]rune(last)[:1]))
	case first != "":
		return first
	default:
		return "another user"
	}
}

func (a *App) create(ctx context.Context, q Queries, req CreateTransferRequest) (*models.Transfer, error) {
	now := a.clock.Now().UTC()
	t := &models.Transfer{
		ID:                  uuid.New(),
		TransferKey:         req.TransferKey,
		SourceUserID:        req.SourceUserID,
		Status:              models.TransferStatusPending,
		Direct:              req.Direct,
		TransferMessageType: req.MessageType,
		TransferAddress:     req.Address,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if !req.Direct && req.Address != nil && *req.Address != "" {
		tempID, err := a.temporaryRecipient(ctx, q, req)
		if err != nil {
			return nil, err
		}
		t.DestinationTemporaryUserID = &tempID
	}

	if err := q.InsertTransfer(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// temporaryRecipient finds or creates the temporary user addressed by the transfer.
// The identity is a v3 UUID of the address so repeat transfers share it.
func (a *App) temporaryRecipient(ctx context.Context, q Queries, req CreateTransferRequest) (uuid.UUID, error) {
	address := strings.ToLower(strings.TrimSpace(*req.Address))
	tu := models.TemporaryUser{
		ID:        uuid.NewMD5(uuid.NameSpaceOID, []byte(address)),
		CreatedAt: a.clock.Now().UTC(),
	}
	if req.MessageType != nil && *req.MessageType == models.TransferMessagePhone {
		tu.Phone = &address
	} else {
		tu.Email = &address
	}

	created, err := q.FindOrCreateTemporaryUser(ctx, tu)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create temporary user: %w", err)
	}
	if created {
		_, err = q.AppendEvent(ctx, models.NewDomainEvent{
			EventType:   models.DomainEventTemporaryUserCreated,
			DisplayText: "Temporary user created",
			MainTable:   models.TableTemporaryUsers,
			MainID:      &tu.ID,
			ActorUserID: &req.SourceUserID,
		})
		if err != nil {
			return uuid.Nil, err
		}
	}
	return tu.ID, nil
}

// addTicket must run inside a transaction. The ticket row lock serializes
// concurrent binders so the pending check cannot race the insert.
func (a *App) addTicket(ctx context.Context, q Queries, t *models.Transfer, ticketInstanceID uuid.UUID) error {
	if t.Status != models.TransferStatusPending {
		return &TransitionError{Action: "modified", Status: t.Status}
	}
	if err := q.LockTicketInstance(ctx, ticketInstanceID); err != nil {
		return fmt.Errorf("failed to lock ticket %s: %w", ticketInstanceID, err)
	}

	pending, err := q.PendingTransferIDsForTicket(ctx, ticketInstanceID)
	if err != nil {
		return fmt.Errorf("failed to check pending transfers: %w", err)
	}
	for _, id := range pending {
		if id != t.ID {
			return fmt.Errorf("%w: ticket %s is held by transfer %s", ErrTicketInPendingTransfer, ticketInstanceID, id)
		}
	}
	if len(pending) > 0 {
		// already bound to this transfer
		return nil
	}

	return q.InsertTransferTicket(ctx, models.TransferTicket{
		ID:               uuid.New(),
		TransferID:       t.ID,
		TicketInstanceID: ticketInstanceID,
		CreatedAt:        a.clock.Now().UTC(),
	})
}

// transition re-reads the transfer under a row lock so concurrent attempts
// cannot both leave Pending.
func (a *App) transition(ctx context.Context, q Queries, transferID uuid.UUID, to models.TransferStatus, userID uuid.UUID, reason *string) (*models.Transfer, error) {
	t, err := q.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	if err := validateTransition(t.Status, to); err != nil {
		return nil, err
	}

	var (
		eventType models.DomainEventType
		display   string
	)
	switch to {
	case models.TransferStatusCancelled:
		t.CancelledByUserID = &userID
		eventType, display = models.DomainEventTransferTicketCancelled, "Transfer cancelled"
	case models.TransferStatusCompleted:
		t.DestinationUserID = &userID
		eventType, display = models.DomainEventTransferTicketCompleted, "Transfer completed"
	}
	t.Status = to
	t.UpdatedAt = a.clock.Now().UTC()

	if err := q.UpdateTransferStatus(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update transfer: %w", err)
	}

	var data []byte
	if reason != nil {
		if data, err = json.Marshal(map[string]string{"reason": *reason}); err != nil {
			return nil, err
		}
	}
	if _, err := q.AppendEvent(ctx, models.NewDomainEvent{
		EventType:   eventType,
		DisplayText: display,
		PayloadData: data,
		MainTable:   models.TableTransfers,
		MainID:      &t.ID,
		ActorUserID: &userID,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *App) forDisplay(ctx context.Context, q Queries, t *models.Transfer) (*models.DisplayTransfer, error) {
	tickets, err := q.ListTransferTickets(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer tickets: %w", err)
	}
	events, err := q.ListTransferEvents(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer events: %w", err)
	}

	d := &models.DisplayTransfer{
		Transfer:  *t,
		TicketIDs: make([]uuid.UUID, 0, len(tickets)),
		EventIDs:  make([]uuid.UUID, 0, len(events)),
	}
	for _, tt := range tickets {
		d.TicketIDs = append(d.TicketIDs, tt.TicketInstanceID)
	}
	for _, e := range events {
		d.EventIDs = append(d.EventIDs, e.ID)
	}
	return d, nil
}

func (a *App) sign(ctx context.Context, q Queries, t *models.Transfer) (int64, string, error) {
	count, err := q.CountTransferTickets(ctx, t.ID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to count transfer tickets: %w", err)
	}
	wallet, err := q.FindDefaultWallet(ctx, t.SourceUserID)
	if err != nil {
		return 0, "", err
	}
	sig, err := signature.Sign(signature.Message(t.TransferKey, t.SourceUserID, count), wallet.SecretKey)
	if err != nil {
		return 0, "", err
	}
	return count, sig, nil
}

func (a *App) verify(ctx context.Context, q Queries, auth models.TransferAuthorization) (*models.Transfer, error) {
	t, err := q.GetTransferByKey(ctx, auth.TransferKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown transfer key", ErrInvalidAuthorization)
		}
		return nil, err
	}
	if t.SourceUserID != auth.SenderUserID {
		return nil, fmt.Errorf("%w: sender mismatch", ErrInvalidAuthorization)
	}

	count, err := q.CountTransferTickets(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transfer tickets: %w", err)
	}
	if count != auth.NumTickets {
		return nil, fmt.Errorf("%w: ticket count changed", ErrInvalidAuthorization)
	}

	wallet, err := q.FindDefaultWallet(ctx, t.SourceUserID)
	if err != nil {
		return nil, err
	}
	msg := signature.Message(auth.TransferKey, auth.SenderUserID, auth.NumTickets)
	if !signature.Verify(auth.Signature, msg, wallet.PublicKey) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidAuthorization)
	}
	return t, nil
}

func (a *App) validateCreateRequest(req CreateTransferRequest) error {
	if req.SourceUserID == uuid.Nil {
		return fmt.Errorf("%w: source user is required", ErrInvalidRequest)
	}
	if req.TransferKey == uuid.Nil {
		return fmt.Errorf("%w: transfer key is required", ErrInvalidRequest)
	}
	if req.MessageType != nil && *req.MessageType != models.TransferMessageNone &&
		(req.Address == nil || strings.TrimSpace(*req.Address) == "") {
		return fmt.Errorf("%w: %s transfers need an address", ErrInvalidRequest, *req.MessageType)
	}
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
