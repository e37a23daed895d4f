package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

const (
	webhookPurchaseTicket  = "purchase_ticket"
	webhookRefundCompleted = "refund_completed"
)

// OrderItemPayload is one line of an order payload. Amounts are in cents.
type OrderItemPayload struct {
	ItemType         models.OrderItemType `json:"item_type"`
	TicketType       *string              `json:"ticket_type"`
	Price            int64                `json:"price"`
	Quantity         int64                `json:"quantity"`
	Total            int64                `json:"total"`
	RefundedQuantity int64                `json:"refunded_quantity"`
	RefundedTotal    int64                `json:"refunded_total"`
}

// OrderTotals aggregates order items by kind.
type OrderTotals struct {
	TicketCount           int64
	Subtotal              int64
	RefundedSubtotal      int64
	FeesTotal             int64
	RefundedFeesTotal     int64
	DiscountTotal         int64
	RefundedDiscountTotal int64
}

// SumOrderItems totals items. Ticket lines count toward ticket_count net of refunds.
func SumOrderItems(items []models.OrderItem) OrderTotals {
	var t OrderTotals
	for _, item := range items {
		total := item.UnitPriceInCents * item.Quantity
		refunded := item.UnitPriceInCents * item.RefundedQuantity
		switch {
		case item.ItemType == models.OrderItemTickets:
			t.TicketCount += item.Quantity - item.RefundedQuantity
			t.Subtotal += total
			t.RefundedSubtotal += refunded
		case item.ItemType == models.OrderItemDiscount:
			t.DiscountTotal += total
			t.RefundedDiscountTotal += refunded
		case item.ItemType.IsFee():
			t.FeesTotal += total
			t.RefundedFeesTotal += refunded
		}
	}
	return t
}

func buildOrderCompleted(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	data, err := b.orderPayload(ctx, event, webhookPurchaseTicket)
	if err != nil {
		return nil, err
	}
	return []Payload{data}, nil
}

func buildOrderRefund(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	data, err := b.orderPayload(ctx, event, webhookRefundCompleted)
	if err != nil {
		return nil, err
	}
	return []Payload{data}, nil
}

// buildOrderResendConfirmation resends whichever confirmation matches the
// order's current state.
func buildOrderResendConfirmation(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	hasRefunds, err := b.reader.OrderHasRefunds(ctx, *event.MainID)
	if err != nil {
		return nil, fmt.Errorf("failed to check order refunds: %w", err)
	}
	webhookType := webhookPurchaseTicket
	if hasRefunds {
		webhookType = webhookRefundCompleted
	}
	data, err := b.orderPayload(ctx, event, webhookType)
	if err != nil {
		return nil, err
	}
	return []Payload{data}, nil
}

func (b *Builder) orderPayload(ctx context.Context, event *models.DomainEvent, webhookType string) (Payload, error) {
	order, err := b.reader.GetOrder(ctx, *event.MainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	userID := order.AttributedUserID()
	customer, err := b.reader.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order user: %w", err)
	}
	items, err := b.reader.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	lines := make([]OrderItemPayload, 0, len(items))
	names := make(map[string]*string)
	for _, item := range items {
		line := OrderItemPayload{
			ItemType:         item.ItemType,
			Price:            item.UnitPriceInCents,
			Quantity:         item.Quantity,
			Total:            item.UnitPriceInCents * item.Quantity,
			RefundedQuantity: item.RefundedQuantity,
			RefundedTotal:    item.UnitPriceInCents * item.RefundedQuantity,
		}
		if item.TicketTypeID != nil {
			key := item.TicketTypeID.String()
			name, seen := names[key]
			if !seen {
				tt, err := b.reader.GetTicketType(ctx, *item.TicketTypeID)
				if err != nil && !errors.Is(err, models.ErrNotFound) {
					return nil, fmt.Errorf("failed to get ticket type: %w", err)
				}
				if tt != nil {
					name = &tt.Name
				}
				names[key] = name
			}
			line.TicketType = name
		}
		lines = append(lines, line)
	}
	totals := SumOrderItems(items)

	data := Payload{
		"webhook_event_type":      webhookType,
		"timestamp":               timestamp(event),
		"order_id":                order.ID,
		"order_number":            order.OrderNumber(),
		"user_id":                 userID,
		"customer_email":          nullable(customer.Email),
		"customer_first_name":     nullable(customer.FirstName),
		"customer_last_name":      nullable(customer.LastName),
		"items":                   lines,
		"ticket_count":            totals.TicketCount,
		"subtotal":                totals.Subtotal,
		"refunded_subtotal":       totals.RefundedSubtotal,
		"fees_total":              totals.FeesTotal,
		"refunded_fees_total":     totals.RefundedFeesTotal,
		"discount_total":          totals.DiscountTotal,
		"refunded_discount_total": totals.RefundedDiscountTotal,
	}

	events, err := b.reader.ListOrderEvents(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order events: %w", err)
	}
	if err := b.addShowMetadata(ctx, data, events, event); err != nil {
		return nil, err
	}
	return data, nil
}
