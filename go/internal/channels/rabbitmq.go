package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

type RabbitMQConfig struct {
	Name     string
	URL      string
	Exchange string
}

// RabbitMQ publishes envelopes to a durable topic exchange. Routing keys are
// the destinations, or the webhook event type when there are none.
type RabbitMQ struct {
	name     string
	exchange string
	clock    clockwork.Clock

	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
	conn    *amqp.Connection
	channel *amqp.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewRabbitMQ(cfg RabbitMQConfig, clock clockwork.Clock) (*RabbitMQ, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	name := cfg.Name
	if name == "" {
		name = "rabbitmq"
	}
	return &RabbitMQ{name: name, exchange: cfg.Exchange, clock: clock, conn: conn, channel: ch}, nil
}

func (r *RabbitMQ) Name() string { return r.name }

func (r *RabbitMQ) Send(ctx context.Context, destinations []string, p payload.Payload) error {
	env := NewEnvelope(p, r.clock.Now())
	body, err := json.Marshal(env)
	if err != nil {
		return permanent(fmt.Errorf("marshal event: %w", err))
	}

	keys := destinations
	if len(keys) == 0 {
		keys = []string{env.WebhookEventType}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		err := r.channel.PublishWithContext(ctx,
			r.exchange, // exchange
			key,        // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    dedupeID(env, key),
				Type:         env.WebhookEventType,
				Timestamp:    env.Timestamp,
				Body:         body,
			})
		if err != nil {
			return fmt.Errorf("publish to exchange %s with key %s: %w", r.exchange, key, err)
		}
		log.Debug().
			Str("exchange", r.exchange).
			Str("routing_key", key).
			Str("event_id", env.EventID).
			Msg("published to RabbitMQ")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
