package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

// CreateTransferRequest describes a new pending transfer
type CreateTransferRequest struct {
	SourceUserID uuid.UUID
	TransferKey  uuid.UUID
	MessageType  *models.TransferMessageType
	Address      *string
	Direct       bool
}

// InitiateTransferRequest creates a transfer with its tickets attached
type InitiateTransferRequest struct {
	CreateTransferRequest
	TicketInstanceIDs []uuid.UUID
}

// Direction picks which side of a transfer a user is looked up on
type Direction string

const (
	DirectionSource      Direction = "Source"
	DirectionDestination Direction = "Destination"
)

// FindForUserRequest filters a user's transfers. Nil filters match everything;
// Start and End bound created_at inclusively. Page counts from 0.
type FindForUserRequest struct {
	UserID    uuid.UUID  `json:"user_id"`
	Direction Direction  `json:"direction"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
}

// TransferPage is one page of transfers for display
type TransferPage struct {
	Data  []models.DisplayTransfer `json:"data"`
	Page  int                      `json:"page"`
	Limit int                      `json:"limit"`
	Total int64                    `json:"total"`
}

// Queries is the data access the state machine needs. Implementations bound
// to a transaction must make every call part of that transaction.
type Queries interface {
	InsertTransfer(ctx context.Context, t *models.Transfer) error
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetTransferForUpdate(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetTransferByKey(ctx context.Context, key uuid.UUID) (*models.Transfer, error)
	UpdateTransferStatus(ctx context.Context, t *models.Transfer) error

	LockTicketInstance(ctx context.Context, ticketInstanceID uuid.UUID) error
	PendingTransferIDsForTicket(ctx context.Context, ticketInstanceID uuid.UUID) ([]uuid.UUID, error)
	InsertTransferTicket(ctx context.Context, tt models.TransferTicket) error
	CountTransferTickets(ctx context.Context, transferID uuid.UUID) (int64, error)
	ListTransferTickets(ctx context.Context, transferID uuid.UUID) ([]models.TransferTicket, error)
	LinkTransferOrders(ctx context.Context, transferID uuid.UUID) error
	ListTransferOrders(ctx context.Context, transferID uuid.UUID) ([]models.Order, error)
	FindTransfersForUser(ctx context.Context, req FindForUserRequest) ([]models.Transfer, int64, error)
	ListPending(ctx context.Context) ([]models.Transfer, error)
	ListPendingByTicketInstanceIDs(ctx context.Context, ticketInstanceIDs []uuid.UUID) ([]models.Transfer, error)
	ListTransferEvents(ctx context.Context, transferID uuid.UUID) ([]models.Event, error)

	FindDefaultWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindOrCreateTemporaryUser(ctx context.Context, tu models.TemporaryUser) (bool, error)
	AppendEvent(ctx context.Context, e models.NewDomainEvent) (*models.DomainEvent, error)
}

// Store hands out Queries either directly or bound to a transaction.
type Store interface {
	Queries() Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
