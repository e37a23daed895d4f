package payload

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

// addShowMetadata copies the show fields of the single event the order or
// transfer is for. Several events cannot be represented by one set of show
// fields, so those payloads are flagged instead.
func (b *Builder) addShowMetadata(ctx context.Context, data Payload, events []models.Event, domainEvent *models.DomainEvent) error {
	switch len(events) {
	case 0:
		return nil
	case 1:
	default:
		log.Warn().
			Str("domain_event_id", domainEvent.ID.String()).
			Str("event_type", string(domainEvent.EventType)).
			Int("events", len(events)).
			Msg("payload spans multiple events, omitting show metadata")
		data["multiple_events"] = true
		return nil
	}

	event := events[0]
	data["show_event_id"] = event.ID
	data["show_name"] = event.Name

	var venue *models.Venue
	if event.VenueID != nil {
		v, err := b.reader.GetVenue(ctx, *event.VenueID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to get venue: %w", err)
		}
		venue = v
	}

	if event.EventStart != nil {
		start := event.EventStart.In(venueLocation(venue))
		data["show_start_date"] = start.Format(time.DateOnly)
		data["show_start_time"] = start.Format(time.TimeOnly)
	}

	if venue != nil {
		data["show_venue_name"] = venue.Name
		data["show_venue_address"] = venue.Address
		data["show_venue_city"] = venue.City
		data["show_venue_state"] = venue.State
		data["show_venue_postal_code"] = venue.PostalCode
	}
	return nil
}

func venueLocation(v *models.Venue) *time.Location {
	if v == nil || v.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		log.Debug().Str("timezone", v.Timezone).Err(err).Msg("unknown venue timezone, using UTC")
		return time.UTC
	}
	return loc
}
