package payload

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

type transferFixture struct {
	reader   *fakeReader
	links    *fakeLinker
	sender   *models.User
	transfer *models.Transfer
	show     showFixture
}

func newTransferFixture() *transferFixture {
	r := newFakeReader()
	sender := &models.User{
		ID:        uuid.New(),
		FirstName: ptr("Bob"),
		LastName:  ptr("Miller"),
		Email:     ptr("bob@example.com"),
		Phone:     ptr("+15550100"),
	}
	r.users[sender.ID] = sender

	tempID := uuid.New()
	tr := &models.Transfer{
		ID:                         uuid.New(),
		TransferKey:                uuid.New(),
		SourceUserID:               sender.ID,
		DestinationTemporaryUserID: &tempID,
		Status:                     models.TransferStatusPending,
		TransferMessageType:        ptr(models.TransferMessageEmail),
		TransferAddress:            ptr("friend@example.com"),
	}
	r.transfers[tr.ID] = tr
	r.ticketCounts[tr.ID] = 2

	show := r.addShow()
	r.transferEvents[tr.ID] = []models.Event{show.event}

	return &transferFixture{reader: r, links: &fakeLinker{}, sender: sender, transfer: tr, show: show}
}

func (f *transferFixture) build(t *testing.T, eventType models.DomainEventType) (recipient, transferer Payload) {
	t.Helper()
	b := NewBuilder(f.reader, f.links, "http://example.com")
	payloads, err := b.Build(context.Background(), domainEvent(eventType, models.TableTransfers, f.transfer.ID))
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	return payloads[0], payloads[1]
}

func TestTransferStarted(t *testing.T) {
	f := newTransferFixture()
	recipient, transferer := f.build(t, models.DomainEventTransferTicketStarted)

	for _, p := range []Payload{recipient, transferer} {
		assert.Equal(t, false, p["direct_transfer"])
		assert.EqualValues(t, 2, p["number_of_tickets_transferred"])
		assert.Equal(t, createdAt.Unix(), p["timestamp"])
		assert.Equal(t, "Summer Show", p["show_name"])
		assert.Equal(t, "bob@example.com", p["transferer_email"])
		assert.Equal(t, "+15550100", p["transferer_phone"])
	}

	assert.Equal(t, "receive_pending_transfer", recipient["webhook_event_type"])
	assert.Equal(t, *f.transfer.DestinationTemporaryUserID, recipient["user_id"])
	assert.Equal(t, "http://example.com/receive/"+f.transfer.TransferKey.String(), recipient["receive_tickets_url"])
	assert.Equal(t, "Bob", recipient["transferer_first_name"])
	assert.Equal(t, "friend@example.com", recipient["recipient_email"])
	assert.NotContains(t, recipient, "recipient_phone")

	assert.Equal(t, "initiate_pending_transfer", transferer["webhook_event_type"])
	assert.Equal(t, f.sender.ID, transferer["user_id"])
	assert.Equal(t, *f.transfer.DestinationTemporaryUserID, transferer["recipient_id"])
	assert.Equal(t, "friend@example.com", transferer["recipient_email"])
	assert.Nil(t, transferer["recipient_phone"])
	assert.Nil(t, transferer["recipient_first_name"])
	assert.NotContains(t, transferer, "receive_tickets_url")

	assert.Equal(t, 1, f.links.calls)
}

func TestTransferCancelled_ByRecipient(t *testing.T) {
	f := newTransferFixture()
	recipientID := uuid.New()
	f.transfer.Status = models.TransferStatusCancelled
	f.transfer.CancelledByUserID = &recipientID

	recipient, transferer := f.build(t, models.DomainEventTransferTicketCancelled)
	assert.Equal(t, "decline_pending_transfer", recipient["webhook_event_type"])
	assert.Equal(t, "initiated_transfer_declined", transferer["webhook_event_type"])
}

func TestTransferCancelled_BySender(t *testing.T) {
	f := newTransferFixture()
	f.transfer.Status = models.TransferStatusCancelled
	f.transfer.CancelledByUserID = &f.sender.ID

	recipient, transferer := f.build(t, models.DomainEventTransferTicketCancelled)
	assert.Equal(t, "cancel_pending_transfer", recipient["webhook_event_type"])
	assert.Equal(t, "cancel_pending_transfer", transferer["webhook_event_type"])
}

func TestTransferCompleted_RegisteredRecipient(t *testing.T) {
	f := newTransferFixture()
	receiver := &models.User{ID: uuid.New(), FirstName: ptr("Fran"), Email: ptr("fran@example.com"), Phone: ptr("+15550199")}
	f.reader.users[receiver.ID] = receiver
	f.transfer.Status = models.TransferStatusCompleted
	f.transfer.DestinationUserID = &receiver.ID
	f.transfer.DestinationTemporaryUserID = nil

	recipient, transferer := f.build(t, models.DomainEventTransferTicketCompleted)
	assert.Equal(t, "claim_pending_transfer", recipient["webhook_event_type"])
	assert.Equal(t, receiver.ID, recipient["user_id"])
	// the recipient side echoes the address the sender typed
	assert.Equal(t, "friend@example.com", recipient["recipient_email"])

	assert.Equal(t, "initiated_transfer_claimed", transferer["webhook_event_type"])
	assert.Equal(t, receiver.ID, transferer["recipient_id"])
	assert.Equal(t, "Fran", transferer["recipient_first_name"])
	assert.Equal(t, "fran@example.com", transferer["recipient_email"])
	assert.Equal(t, "+15550199", transferer["recipient_phone"])
}

func TestTransfer_AddressOnlyForDeclaredType(t *testing.T) {
	f := newTransferFixture()
	f.transfer.TransferMessageType = ptr(models.TransferMessagePhone)
	f.transfer.TransferAddress = ptr("+15550142")

	recipient, transferer := f.build(t, models.DomainEventTransferTicketStarted)
	assert.Equal(t, "+15550142", recipient["recipient_phone"])
	assert.NotContains(t, recipient, "recipient_email")
	assert.Equal(t, "+15550142", transferer["recipient_phone"])
	assert.Nil(t, transferer["recipient_email"])
}

func TestTransfer_DirectWithoutMessageType(t *testing.T) {
	f := newTransferFixture()
	f.transfer.Direct = true
	f.transfer.TransferMessageType = nil
	f.transfer.TransferAddress = nil
	f.transfer.DestinationTemporaryUserID = nil

	recipient, transferer := f.build(t, models.DomainEventTransferTicketStarted)
	assert.Equal(t, true, recipient["direct_transfer"])
	assert.Nil(t, recipient["user_id"])
	assert.Nil(t, transferer["recipient_id"])
	assert.Nil(t, transferer["recipient_email"])
}

func TestTransfer_VariantsDoNotShareState(t *testing.T) {
	f := newTransferFixture()
	recipient, transferer := f.build(t, models.DomainEventTransferTicketStarted)

	recipient["show_name"] = "changed"
	assert.Equal(t, "Summer Show", transferer["show_name"])
	assert.NotEqual(t, recipient["user_id"], transferer["user_id"])
}

func TestTransfer_MultipleEvents(t *testing.T) {
	f := newTransferFixture()
	other := f.reader.addShow()
	f.reader.transferEvents[f.transfer.ID] = append(f.reader.transferEvents[f.transfer.ID], other.event)

	recipient, transferer := f.build(t, models.DomainEventTransferTicketStarted)
	for _, p := range []Payload{recipient, transferer} {
		assert.Equal(t, true, p["multiple_events"])
		assert.NotContains(t, p, "show_name")
	}
}

func TestTransfer_MissingIsSkipped(t *testing.T) {
	f := newTransferFixture()
	b := NewBuilder(f.reader, f.links, "http://example.com")

	payloads, err := b.Build(context.Background(), domainEvent(models.DomainEventTransferTicketStarted, models.TableTransfers, uuid.New()))
	require.NoError(t, err)
	assert.Nil(t, payloads)
	assert.Zero(t, f.links.calls)
}

func TestTransferWebhookTypes(t *testing.T) {
	sender := uuid.New()
	other := uuid.New()

	tests := []struct {
		name            string
		eventType       models.DomainEventType
		cancelledBy     *uuid.UUID
		wantRecipient   string
		wantTransferrer string
	}{
		{"started", models.DomainEventTransferTicketStarted, nil, "receive_pending_transfer", "initiate_pending_transfer"},
		{"cancelled by sender", models.DomainEventTransferTicketCancelled, &sender, "cancel_pending_transfer", "cancel_pending_transfer"},
		{"cancelled by recipient", models.DomainEventTransferTicketCancelled, &other, "decline_pending_transfer", "initiated_transfer_declined"},
		{"completed", models.DomainEventTransferTicketCompleted, nil, "claim_pending_transfer", "initiated_transfer_claimed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &models.Transfer{SourceUserID: sender, CancelledByUserID: tt.cancelledBy}

			got, err := recipientWebhookType(tt.eventType, tr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRecipient, got)

			got, err = transfererWebhookType(tt.eventType, tr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTransferrer, got)
		})
	}

	_, err := recipientWebhookType(models.DomainEventOrderCompleted, &models.Transfer{})
	assert.ErrorIs(t, err, ErrUnsupportedEventType)
}
