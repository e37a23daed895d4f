package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderItemType classifies an order line
type OrderItemType string

const (
	OrderItemTickets        OrderItemType = "Tickets"
	OrderItemPerUnitFees    OrderItemType = "PerUnitFees"
	OrderItemEventFees      OrderItemType = "EventFees"
	OrderItemCreditCardFees OrderItemType = "CreditCardFees"
	OrderItemDiscount       OrderItemType = "Discount"
)

// IsFee reports whether the item is one of the fee kinds.
func (t OrderItemType) IsFee() bool {
	switch t {
	case OrderItemPerUnitFees, OrderItemEventFees, OrderItemCreditCardFees:
		return true
	}
	return false
}

// Order represents a completed purchase
type Order struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	OnBehalfOfUserID *uuid.UUID `json:"on_behalf_of_user_id,omitempty" db:"on_behalf_of_user_id"`
	Status           string     `json:"status" db:"status"`
	PaidAt           *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// AttributedUserID is the user the order was placed for.
func (o *Order) AttributedUserID() uuid.UUID {
	if o.OnBehalfOfUserID != nil {
		return *o.OnBehalfOfUserID
	}
	return o.UserID
}

// OrderNumber is the short customer facing reference.
func (o *Order) OrderNumber() string {
	id := strings.ReplaceAll(o.ID.String(), "-", "")
	return strings.ToUpper(id[len(id)-8:])
}

// OrderItem is one line of an order. Amounts are in cents.
type OrderItem struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	OrderID          uuid.UUID     `json:"order_id" db:"order_id"`
	ItemType         OrderItemType `json:"item_type" db:"item_type"`
	TicketTypeID     *uuid.UUID    `json:"ticket_type_id,omitempty" db:"ticket_type_id"`
	EventID          *uuid.UUID    `json:"event_id,omitempty" db:"event_id"`
	UnitPriceInCents int64         `json:"unit_price_in_cents" db:"unit_price_in_cents"`
	Quantity         int64         `json:"quantity" db:"quantity"`
	RefundedQuantity int64         `json:"refunded_quantity" db:"refunded_quantity"`
}

// TicketType names a kind of ticket sold for an event
type TicketType struct {
	ID      uuid.UUID `json:"id" db:"id"`
	EventID uuid.UUID `json:"event_id" db:"event_id"`
	Name    string    `json:"name" db:"name"`
}
