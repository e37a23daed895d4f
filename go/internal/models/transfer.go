package models

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus represents the lifecycle state of a ticket transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "Pending"
	TransferStatusCancelled TransferStatus = "Cancelled"
	TransferStatusCompleted TransferStatus = "Completed"
)

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCancelled || s == TransferStatusCompleted
}

// TransferMessageType is the contact channel used to reach a transfer recipient
type TransferMessageType string

const (
	TransferMessageEmail TransferMessageType = "Email"
	TransferMessagePhone TransferMessageType = "Phone"
	TransferMessageNone  TransferMessageType = "None"
)

// Transfer is a handoff of ticket ownership from a source user to a destination identity
type Transfer struct {
	ID                         uuid.UUID            `json:"id" db:"id"`
	TransferKey                uuid.UUID            `json:"transfer_key" db:"transfer_key"`
	SourceUserID               uuid.UUID            `json:"source_user_id" db:"source_user_id"`
	DestinationUserID          *uuid.UUID           `json:"destination_user_id,omitempty" db:"destination_user_id"`
	DestinationTemporaryUserID *uuid.UUID           `json:"destination_temporary_user_id,omitempty" db:"destination_temporary_user_id"`
	Status                     TransferStatus       `json:"status" db:"status"`
	Direct                     bool                 `json:"direct" db:"direct"`
	CancelledByUserID          *uuid.UUID           `json:"cancelled_by_user_id,omitempty" db:"cancelled_by_user_id"`
	TransferMessageType        *TransferMessageType `json:"transfer_message_type,omitempty" db:"transfer_message_type"`
	TransferAddress            *string              `json:"transfer_address,omitempty" db:"transfer_address"`
	CreatedAt                  time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time            `json:"updated_at" db:"updated_at"`
}

// CancelledBySender reports whether the source user cancelled the transfer.
func (t *Transfer) CancelledBySender() bool {
	return t.CancelledByUserID != nil && *t.CancelledByUserID == t.SourceUserID
}

// RecipientID returns the temporary identity if present, else the destination user.
func (t *Transfer) RecipientID() *uuid.UUID {
	if t.DestinationTemporaryUserID != nil {
		return t.DestinationTemporaryUserID
	}
	return t.DestinationUserID
}

// TransferTicket binds one ticket instance to a transfer
type TransferTicket struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TransferID       uuid.UUID `json:"transfer_id" db:"transfer_id"`
	TicketInstanceID uuid.UUID `json:"ticket_instance_id" db:"ticket_instance_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// DisplayTransfer is a transfer with the tickets and events it covers.
type DisplayTransfer struct {
	Transfer
	TicketIDs []uuid.UUID `json:"ticket_ids"`
	EventIDs  []uuid.UUID `json:"event_ids"`
}

// TransferAuthorization is the machine readable proof a receiver presents to claim a transfer.
type TransferAuthorization struct {
	TransferKey  uuid.UUID `json:"transfer_key"`
	SenderUserID uuid.UUID `json:"sender_user_id"`
	NumTickets   int64     `json:"num_tickets"`
	Signature    string    `json:"signature"`
}
