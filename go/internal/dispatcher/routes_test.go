package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

func TestRoute_Matches(t *testing.T) {
	all := Route{Channel: "bus"}
	assert.True(t, all.matches(models.DomainEventOrderRefund, "refund_completed"))

	transfers := Route{
		Channel:           "push",
		EventTypes:        []models.DomainEventType{models.DomainEventTransferTicketStarted, models.DomainEventTransferTicketCancelled},
		WebhookEventTypes: []string{"receive_pending_transfer", "initiated_transfer_declined"},
	}
	assert.True(t, transfers.matches(models.DomainEventTransferTicketStarted, "receive_pending_transfer"))
	assert.True(t, transfers.matches(models.DomainEventTransferTicketCancelled, "initiated_transfer_declined"))
	assert.False(t, transfers.matches(models.DomainEventTransferTicketStarted, "initiate_pending_transfer"))
	assert.False(t, transfers.matches(models.DomainEventOrderCompleted, "receive_pending_transfer"))
}

func TestRoute_Destinations(t *testing.T) {
	p := payload.Payload{
		"recipient_email": "pat@example.com",
		"user_id":         nil,
		"emails":          []any{"a@example.com", 7, "", "b@example.com"},
		"phones":          []string{"+15555550100"},
	}

	tests := []struct {
		name  string
		route Route
		want  []string
		ok    bool
	}{
		{"channel default", Route{}, nil, true},
		{"static", Route{Destinations: []string{"https://crm.example.com/hook"}, DestinationField: "recipient_email"}, []string{"https://crm.example.com/hook"}, true},
		{"string field", Route{DestinationField: "recipient_email"}, []string{"pat@example.com"}, true},
		{"list field", Route{DestinationField: "emails"}, []string{"a@example.com", "b@example.com"}, true},
		{"string list field", Route{DestinationField: "phones"}, []string{"+15555550100"}, true},
		{"null field", Route{DestinationField: "user_id"}, nil, false},
		{"missing field", Route{DestinationField: "recipient_phone"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.route.destinations(p)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
