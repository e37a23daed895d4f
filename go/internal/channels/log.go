package channels

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// LogChannel records deliveries in the log instead of sending them. Email and
// SMS routes use it until a provider client is attached.
type LogChannel struct {
	name string
}

func NewLogChannel(name string) *LogChannel {
	return &LogChannel{name: name}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Send(_ context.Context, destinations []string, p payload.Payload) error {
	eventID, _ := p.String(payload.KeyDomainEventID)
	log.Info().
		Str("channel", c.name).
		Strs("destinations", destinations).
		Str("event_id", eventID).
		Str("webhook_event_type", p.WebhookEventType()).
		Msg("publishing payload")
	return nil
}
