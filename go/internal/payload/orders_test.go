package payload

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

type orderFixture struct {
	reader *fakeReader
	order  *models.Order
	buyer  *models.User
	show   showFixture
}

func newOrderFixture() *orderFixture {
	r := newFakeReader()
	buyer := &models.User{ID: uuid.New(), FirstName: ptr("Ann"), LastName: ptr("Lee"), Email: ptr("ann@example.com")}
	r.users[buyer.ID] = buyer

	show := r.addShow()
	gaID, vipID := uuid.New(), uuid.New()
	r.ticketTypes[gaID] = &models.TicketType{ID: gaID, EventID: show.event.ID, Name: "GA"}
	r.ticketTypes[vipID] = &models.TicketType{ID: vipID, EventID: show.event.ID, Name: "VIP"}

	order := &models.Order{
		ID:     uuid.MustParse("0b8e4b8a-3c55-4f4b-9d0e-1a2b3c4d5e6f"),
		UserID: buyer.ID,
		Status: "Paid",
	}
	r.orders[order.ID] = order
	r.orderItems[order.ID] = []models.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, ItemType: models.OrderItemTickets, TicketTypeID: &gaID, EventID: &show.event.ID,
			UnitPriceInCents: 1000, Quantity: 2},
		{ID: uuid.New(), OrderID: order.ID, ItemType: models.OrderItemTickets, TicketTypeID: &vipID, EventID: &show.event.ID,
			UnitPriceInCents: 500, Quantity: 1, RefundedQuantity: 1},
		{ID: uuid.New(), OrderID: order.ID, ItemType: models.OrderItemPerUnitFees, UnitPriceInCents: 150, Quantity: 3, RefundedQuantity: 1},
		{ID: uuid.New(), OrderID: order.ID, ItemType: models.OrderItemCreditCardFees, UnitPriceInCents: 90, Quantity: 1},
		{ID: uuid.New(), OrderID: order.ID, ItemType: models.OrderItemDiscount, UnitPriceInCents: -200, Quantity: 1},
	}
	r.orderEvents[order.ID] = []models.Event{show.event}

	return &orderFixture{reader: r, order: order, buyer: buyer, show: show}
}

func (f *orderFixture) build(t *testing.T, eventType models.DomainEventType) Payload {
	t.Helper()
	b := NewBuilder(f.reader, &fakeLinker{}, "http://example.com")
	payloads, err := b.Build(context.Background(), domainEvent(eventType, models.TableOrders, f.order.ID))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	return payloads[0]
}

func TestOrderCompleted(t *testing.T) {
	f := newOrderFixture()
	p := f.build(t, models.DomainEventOrderCompleted)

	assert.Equal(t, "purchase_ticket", p["webhook_event_type"])
	assert.Equal(t, f.order.ID, p["order_id"])
	assert.Equal(t, "3C4D5E6F", p["order_number"])
	assert.Equal(t, f.buyer.ID, p["user_id"])
	assert.Equal(t, "ann@example.com", p["customer_email"])
	assert.Equal(t, "Ann", p["customer_first_name"])
	assert.Equal(t, "Lee", p["customer_last_name"])
	assert.Equal(t, createdAt.Unix(), p["timestamp"])

	assert.EqualValues(t, 2500, p["subtotal"])
	assert.EqualValues(t, 500, p["refunded_subtotal"])
	assert.EqualValues(t, 2, p["ticket_count"])
	assert.EqualValues(t, 540, p["fees_total"])
	assert.EqualValues(t, 150, p["refunded_fees_total"])
	assert.EqualValues(t, -200, p["discount_total"])
	assert.EqualValues(t, 0, p["refunded_discount_total"])

	items, ok := p["items"].([]OrderItemPayload)
	require.True(t, ok)
	require.Len(t, items, 5)
	assert.Equal(t, "GA", *items[0].TicketType)
	assert.EqualValues(t, 2000, items[0].Total)
	assert.Equal(t, "VIP", *items[1].TicketType)
	assert.EqualValues(t, 500, items[1].RefundedTotal)
	assert.Nil(t, items[2].TicketType)

	assert.Equal(t, "Summer Show", p["show_name"])
	assert.Equal(t, f.show.event.ID, p["show_event_id"])
	assert.Equal(t, "2025-07-03", p["show_start_date"])
	assert.Equal(t, "20:30:00", p["show_start_time"])
	assert.Equal(t, "The Fillmore", p["show_venue_name"])
	assert.Equal(t, "1805 Geary Blvd", p["show_venue_address"])
	assert.Equal(t, "San Francisco", p["show_venue_city"])
	assert.Equal(t, "CA", p["show_venue_state"])
	assert.Equal(t, "94115", p["show_venue_postal_code"])
	assert.NotContains(t, p, "multiple_events")

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ticket_type":"GA"`)
}

func TestOrderCompleted_OnBehalfOf(t *testing.T) {
	f := newOrderFixture()
	guest := &models.User{ID: uuid.New(), FirstName: ptr("Gus"), Email: ptr("gus@example.com")}
	f.reader.users[guest.ID] = guest
	f.order.OnBehalfOfUserID = &guest.ID

	p := f.build(t, models.DomainEventOrderCompleted)
	assert.Equal(t, guest.ID, p["user_id"])
	assert.Equal(t, "gus@example.com", p["customer_email"])
	assert.Nil(t, p["customer_last_name"])
}

func TestOrderRefund(t *testing.T) {
	f := newOrderFixture()
	p := f.build(t, models.DomainEventOrderRefund)
	assert.Equal(t, "refund_completed", p["webhook_event_type"])
	assert.EqualValues(t, 2500, p["subtotal"])
}

func TestOrderResendConfirmation(t *testing.T) {
	f := newOrderFixture()
	p := f.build(t, models.DomainEventOrderResendConfirmationTriggered)
	assert.Equal(t, "purchase_ticket", p["webhook_event_type"])

	f.reader.refunded[f.order.ID] = true
	p = f.build(t, models.DomainEventOrderResendConfirmationTriggered)
	assert.Equal(t, "refund_completed", p["webhook_event_type"])
}

func TestOrder_MultipleEvents(t *testing.T) {
	f := newOrderFixture()
	other := f.reader.addShow()
	f.reader.orderEvents[f.order.ID] = append(f.reader.orderEvents[f.order.ID], other.event)

	p := f.build(t, models.DomainEventOrderCompleted)
	assert.Equal(t, true, p["multiple_events"])
	assert.NotContains(t, p, "show_name")
	assert.NotContains(t, p, "show_venue_name")
}

func TestOrder_NotFound(t *testing.T) {
	b := NewBuilder(newFakeReader(), &fakeLinker{}, "http://example.com")
	_, err := b.Build(context.Background(), domainEvent(models.DomainEventOrderCompleted, models.TableOrders, uuid.New()))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSumOrderItems(t *testing.T) {
	totals := SumOrderItems([]models.OrderItem{
		{ItemType: models.OrderItemTickets, UnitPriceInCents: 1000, Quantity: 2},
		{ItemType: models.OrderItemTickets, UnitPriceInCents: 500, Quantity: 1, RefundedQuantity: 1},
	})
	assert.Equal(t, OrderTotals{TicketCount: 2, Subtotal: 2500, RefundedSubtotal: 500}, totals)

	assert.Equal(t, OrderTotals{}, SumOrderItems(nil))
}
