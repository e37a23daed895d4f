package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

const (
	webhookReceivePendingTransfer   = "receive_pending_transfer"
	webhookInitiatePendingTransfer  = "initiate_pending_transfer"
	webhookCancelPendingTransfer    = "cancel_pending_transfer"
	webhookDeclinePendingTransfer   = "decline_pending_transfer"
	webhookInitiatedTransferDecline = "initiated_transfer_declined"
	webhookClaimPendingTransfer     = "claim_pending_transfer"
	webhookInitiatedTransferClaimed = "initiated_transfer_claimed"
)

// transferBase holds what both sides of a transfer notification share. It is
// passed by value and every variant starts from a fresh payload.
type transferBase struct {
	eventType   models.DomainEventType
	timestamp   int64
	transfer    models.Transfer
	source      models.User
	ticketCount int64
	show        Payload
}

func (t transferBase) payload() Payload {
	data := t.show.Clone()
	if data == nil {
		data = Payload{}
	}
	data["direct_transfer"] = t.transfer.Direct
	data["number_of_tickets_transferred"] = t.ticketCount
	data["timestamp"] = t.timestamp
	data["transferer_email"] = nullable(t.source.Email)
	data["transferer_phone"] = nullable(t.source.Phone)
	return data
}

// recipient is addressed to the temporary identity or the destination user.
func (t transferBase) recipient(receiveURL string) (Payload, error) {
	webhookType, err := recipientWebhookType(t.eventType, &t.transfer)
	if err != nil {
		return nil, err
	}
	data := t.payload()
	data["webhook_event_type"] = webhookType
	data["user_id"] = uuidOrNil(t.transfer.RecipientID())
	data["receive_tickets_url"] = receiveURL
	data["transferer_first_name"] = nullable(t.source.FirstName)

	if t.transfer.TransferMessageType != nil {
		switch *t.transfer.TransferMessageType {
		case models.TransferMessageEmail:
			data["recipient_email"] = nullable(t.transfer.TransferAddress)
		case models.TransferMessagePhone:
			data["recipient_phone"] = nullable(t.transfer.TransferAddress)
		}
	}
	return data, nil
}

// transferer is addressed to the source user. Registered recipient contact
// details win over the raw transfer address.
func (t transferBase) transferer(recipient *models.User) (Payload, error) {
	webhookType, err := transfererWebhookType(t.eventType, &t.transfer)
	if err != nil {
		return nil, err
	}
	data := t.payload()
	data["webhook_event_type"] = webhookType
	data["user_id"] = t.transfer.SourceUserID
	data["recipient_id"] = uuidOrNil(t.transfer.RecipientID())

	var email, phone, firstName *string
	if recipient != nil {
		email, phone, firstName = recipient.Email, recipient.Phone, recipient.FirstName
	}
	if t.transfer.TransferMessageType != nil {
		switch *t.transfer.TransferMessageType {
		case models.TransferMessageEmail:
			if email == nil {
				email = t.transfer.TransferAddress
			}
		case models.TransferMessagePhone:
			if phone == nil {
				phone = t.transfer.TransferAddress
			}
		}
	}
	data["recipient_first_name"] = nullable(firstName)
	data["recipient_email"] = nullable(email)
	data["recipient_phone"] = nullable(phone)
	return data, nil
}

func recipientWebhookType(eventType models.DomainEventType, t *models.Transfer) (string, error) {
	switch eventType {
	case models.DomainEventTransferTicketStarted:
		return webhookReceivePendingTransfer, nil
	case models.DomainEventTransferTicketCancelled:
		if t.CancelledBySender() {
			return webhookCancelPendingTransfer, nil
		}
		return webhookDeclinePendingTransfer, nil
	case models.DomainEventTransferTicketCompleted:
		return webhookClaimPendingTransfer, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
}

func transfererWebhookType(eventType models.DomainEventType, t *models.Transfer) (string, error) {
	switch eventType {
	case models.DomainEventTransferTicketStarted:
		return webhookInitiatePendingTransfer, nil
	case models.DomainEventTransferTicketCancelled:
		if t.CancelledBySender() {
			return webhookCancelPendingTransfer, nil
		}
		return webhookInitiatedTransferDecline, nil
	case models.DomainEventTransferTicketCompleted:
		return webhookInitiatedTransferClaimed, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
}

// buildTransfer emits the recipient payload followed by the transferer payload.
func buildTransfer(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	t, err := b.reader.GetTransfer(ctx, *event.MainID)
	if errors.Is(err, models.ErrNotFound) {
		log.Error().
			Str("domain_event_id", event.ID.String()).
			Str("transfer_id", event.MainID.String()).
			Msg("could not find transfer for domain event, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	source, err := b.reader.GetUser(ctx, t.SourceUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer source user: %w", err)
	}
	count, err := b.reader.CountTransferTickets(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transfer tickets: %w", err)
	}
	events, err := b.reader.ListTransferEvents(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer events: %w", err)
	}
	show := Payload{}
	if err := b.addShowMetadata(ctx, show, events, event); err != nil {
		return nil, err
	}

	base := transferBase{
		eventType:   event.EventType,
		timestamp:   timestamp(event),
		transfer:    *t,
		source:      *source,
		ticketCount: count,
		show:        show,
	}

	receiveURL, err := b.links.ReceiveURL(ctx, t, b.frontEndURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build receive url: %w", err)
	}
	recipientData, err := base.recipient(receiveURL)
	if err != nil {
		return nil, err
	}

	var recipient *models.User
	if t.DestinationUserID != nil {
		recipient, err = b.reader.GetUser(ctx, *t.DestinationUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get transfer recipient: %w", err)
		}
	}
	transfererData, err := base.transferer(recipient)
	if err != nil {
		return nil, err
	}
	return []Payload{recipientData, transfererData}, nil
}
