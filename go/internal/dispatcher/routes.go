package dispatcher

import (
	"fmt"
	"slices"

	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// Route sends payloads of the listed event types to one channel.
type Route struct {
	Channel string `yaml:"channel"`
	// EventTypes defaults to every type the builder supports.
	EventTypes []models.DomainEventType `yaml:"event_types"`
	// WebhookEventTypes narrows the route to some payload variants.
	WebhookEventTypes []string `yaml:"webhook_event_types"`
	// Destinations are passed to the channel as is. When empty,
	// DestinationField names a payload field holding one or more
	// destinations and payloads without it are not routed. When both are
	// empty the channel uses its default target.
	Destinations     []string `yaml:"destinations"`
	DestinationField string   `yaml:"destination_field"`
}

func (r Route) validate(channels map[string]bool, builder PayloadBuilder) error {
	if r.Channel == "" {
		return fmt.Errorf("route has no channel")
	}
	if !channels[r.Channel] {
		return fmt.Errorf("route references unknown channel %q", r.Channel)
	}
	for _, t := range r.EventTypes {
		if !builder.Supports(t) {
			return fmt.Errorf("route for channel %q: %w: %s", r.Channel, payload.ErrUnsupportedEventType, t)
		}
	}
	return nil
}

func (r Route) matches(eventType models.DomainEventType, webhookEventType string) bool {
	if len(r.EventTypes) > 0 && !slices.Contains(r.EventTypes, eventType) {
		return false
	}
	if len(r.WebhookEventTypes) > 0 && !slices.Contains(r.WebhookEventTypes, webhookEventType) {
		return false
	}
	return true
}

// destinations returns nil when the channel should use its default target.
// ok is false when the route's destination field is absent from p, in which
// case the payload is not for this route.
func (r Route) destinations(p payload.Payload) (dests []string, ok bool) {
	if len(r.Destinations) > 0 {
		return r.Destinations, true
	}
	if r.DestinationField == "" {
		return nil, true
	}
	switch v := p[r.DestinationField].(type) {
	case []string:
		return v, len(v) > 0
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				dests = append(dests, s)
			}
		}
		return dests, len(dests) > 0
	}
	if s, ok := p.String(r.DestinationField); ok && s != "" {
		return []string{s}, true
	}
	return nil, false
}
