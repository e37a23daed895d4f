package pgtest

import (
	"github.com/google/uuid"
)

// Fixtures inserts the minimum rows the outbox and transfer flows reference.
type Fixtures struct {
	s *DBSuite
}

func (s *DBSuite) Fixtures() Fixtures {
	return Fixtures{s: s}
}

func (f Fixtures) User(first, last, email string) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO users (id, first_name, last_name, email) VALUES ($1, $2, $3, $4)`, id, first, last, email)
	return id
}

func (f Fixtures) Organization() uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO organizations (id, name) VALUES ($1, $2)`, id, "Org "+id.String()[:8])
	return id
}

func (f Fixtures) Venue() uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO venues (id, name, address, city, state, postal_code, country, timezone)
		VALUES ($1, 'The Warfield', '982 Market St', 'San Francisco', 'CA', '94102', 'US', 'America/Los_Angeles')`, id)
	return id
}

func (f Fixtures) Event(orgID, venueID uuid.UUID, name string) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO events (id, organization_id, venue_id, name, event_start, event_end)
		VALUES ($1, $2, $3, $4, now() + interval '7 days', now() + interval '8 days')`, id, orgID, venueID, name)
	return id
}

func (f Fixtures) TicketType(eventID uuid.UUID, name string) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO ticket_types (id, event_id, name) VALUES ($1, $2, $3)`, id, eventID, name)
	return id
}

func (f Fixtures) Wallet(userID uuid.UUID, publicKey, secretKey string) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO wallets (id, user_id, name, public_key, secret_key, is_default)
		VALUES ($1, $2, 'Default', $3, $4, true)`, id, userID, publicKey, secretKey)
	return id
}

func (f Fixtures) Ticket(ticketTypeID, walletID uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO ticket_instances (id, ticket_type_id, wallet_id) VALUES ($1, $2, $3)`, id, ticketTypeID, walletID)
	return id
}

// Order inserts a paid order with one ticket line and returns the order and
// line ids.
func (f Fixtures) Order(userID, ticketTypeID uuid.UUID, quantity int64) (orderID, itemID uuid.UUID) {
	orderID, itemID = uuid.New(), uuid.New()
	f.s.Exec(`INSERT INTO orders (id, user_id, status, paid_at) VALUES ($1, $2, 'Paid', now())`, orderID, userID)
	f.s.Exec(`INSERT INTO order_items (id, order_id, item_type, ticket_type_id, unit_price_in_cents, quantity)
		VALUES ($1, $2, 'Tickets', $3, 1500, $4)`, itemID, orderID, ticketTypeID, quantity)
	return orderID, itemID
}

// PurchasedTicket inserts a ticket bought through an order line.
func (f Fixtures) PurchasedTicket(ticketTypeID, walletID, orderItemID uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.s.Exec(`INSERT INTO ticket_instances (id, ticket_type_id, wallet_id, order_item_id) VALUES ($1, $2, $3, $4)`,
		id, ticketTypeID, walletID, orderItemID)
	return id
}
