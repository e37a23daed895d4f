package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/clients"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// WebhookConfig configures HTTP webhook delivery
type WebhookConfig struct {
	Name    string
	URL     string // used when a payload has no destinations
	Timeout time.Duration
	Headers map[string]string
}

// Webhook posts the payload envelope as JSON to each destination URL.
type Webhook struct {
	name   string
	url    string
	client *clients.BaseClient
	clock  clockwork.Clock
}

func NewWebhook(cfg WebhookConfig, clock clockwork.Clock) *Webhook {
	client := clients.NewBaseClient("")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	name := cfg.Name
	if name == "" {
		name = "webhook"
	}
	return &Webhook{name: name, url: cfg.URL, client: client, clock: clock}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, destinations []string, p payload.Payload) error {
	if len(destinations) == 0 {
		if w.url == "" {
			return permanent(errors.New("webhook has no destination url"))
		}
		destinations = []string{w.url}
	}

	env := NewEnvelope(p, w.clock.Now())
	var errs []error
	for _, dest := range destinations {
		headers := map[string]string{
			"Idempotency-Key": dedupeID(env, dest),
			"X-Event-Type":    env.WebhookEventType,
		}
		if _, err := w.client.PostJSON(ctx, dest, env, headers); err != nil {
			var statusErr *clients.StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				err = permanent(err)
			}
			errs = append(errs, fmt.Errorf("post %s: %w", dest, err))
			continue
		}
		log.Debug().
			Str("channel", w.name).
			Str("url", dest).
			Str("event_id", env.EventID).
			Str("webhook_event_type", env.WebhookEventType).
			Msg("webhook delivered")
	}
	return errors.Join(errs...)
}
