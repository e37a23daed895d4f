package payload

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/models"
)

func buildUserCreated(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	user, err := b.reader.GetUser(ctx, *event.MainID)
	if err != nil {
		return nil, err
	}
	return []Payload{{
		"webhook_event_type": "user_created",
		"timestamp":          timestamp(event),
		"user_id":            user.ID,
		"email":              nullable(user.Email),
		"phone":              nullable(user.Phone),
		"first_name":         nullable(user.FirstName),
		"last_name":          nullable(user.LastName),
	}}, nil
}

func buildTemporaryUserCreated(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	tu, err := b.reader.GetTemporaryUser(ctx, *event.MainID)
	if err != nil {
		return nil, err
	}
	return []Payload{{
		"webhook_event_type": "temporary_user_created",
		"timestamp":          timestamp(event),
		"user_id":            tu.ID,
		"email":              nullable(tu.Email),
		"phone":              nullable(tu.Phone),
	}}, nil
}

// buildPushTokenCreated skips tokens deleted before dispatch.
func buildPushTokenCreated(ctx context.Context, b *Builder, event *models.DomainEvent) ([]Payload, error) {
	token, err := b.reader.GetPushToken(ctx, *event.MainID)
	if errors.Is(err, models.ErrNotFound) {
		log.Debug().Str("domain_event_id", event.ID.String()).Msg("push token no longer exists, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lastUsed := token.CreatedAt
	if token.LastNotificationAt != nil {
		lastUsed = *token.LastNotificationAt
	}
	return []Payload{{
		"webhook_event_type": "user_device_tokens_added",
		"timestamp":          timestamp(event),
		"user_id":            token.UserID,
		"token_source":       token.TokenSource,
		"token":              token.Token,
		"last_used":          lastUsed.Unix(),
	}}, nil
}
