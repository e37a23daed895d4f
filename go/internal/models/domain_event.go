package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DomainEventType tags what happened.
type DomainEventType string

const (
	DomainEventUserCreated                      DomainEventType = "UserCreated"
	DomainEventTemporaryUserCreated             DomainEventType = "TemporaryUserCreated"
	DomainEventPushTokenCreated                 DomainEventType = "PushNotificationTokenCreated"
	DomainEventOrderCompleted                   DomainEventType = "OrderCompleted"
	DomainEventOrderRefund                      DomainEventType = "OrderRefund"
	DomainEventOrderResendConfirmationTriggered DomainEventType = "OrderResendConfirmationTriggered"
	DomainEventTransferTicketStarted            DomainEventType = "TransferTicketStarted"
	DomainEventTransferTicketCancelled          DomainEventType = "TransferTicketCancelled"
	DomainEventTransferTicketCompleted          DomainEventType = "TransferTicketCompleted"
	DomainEventEventInterestCreated             DomainEventType = "EventInterestCreated"
	DomainEventTicketRedeemed                   DomainEventType = "TicketInstanceRedeemed"
)

// Table names the entity a domain event is about.
type Table string

const (
	TableUsers                  Table = "Users"
	TableTemporaryUsers         Table = "TemporaryUsers"
	TablePushNotificationTokens Table = "PushNotificationTokens"
	TableOrders                 Table = "Orders"
	TableTransfers              Table = "Transfers"
	TableEvents                 Table = "Events"
	TableTicketInstances        Table = "TicketInstances"
)

// DomainEvent is an immutable record of a state change. Sequence is assigned
// by the store and orders events by commit time.
type DomainEvent struct {
	ID             uuid.UUID             `json:"id" db:"id"`
	Sequence       int64                 `json:"seq" db:"seq"`
	EventType      DomainEventType       `json:"event_type" db:"event_type"`
	DisplayText    string                `json:"display_text" db:"display_text"`
	PayloadData    pqtype.NullRawMessage `json:"event_data" db:"event_data"`
	MainTable      Table                 `json:"main_table" db:"main_table"`
	MainID         *uuid.UUID            `json:"main_id,omitempty" db:"main_id"`
	ActorUserID    *uuid.UUID            `json:"user_id,omitempty" db:"user_id"`
	OrganizationID *uuid.UUID            `json:"organization_id,omitempty" db:"organization_id"`
	CreatedAt      time.Time             `json:"created_at" db:"created_at"`
}

// NewDomainEvent holds the caller supplied fields of an event about to be appended.
type NewDomainEvent struct {
	EventType      DomainEventType
	DisplayText    string
	PayloadData    []byte
	MainTable      Table
	MainID         *uuid.UUID
	ActorUserID    *uuid.UUID
	OrganizationID *uuid.UUID
}
