package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

type JetStreamConfig struct {
	Name            string
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Name:            "jetstream",
		URL:             nats.DefaultURL,
		StreamName:      "DOMAIN_EVENTS",
		SubjectPrefix:   "tixmarket.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStream publishes payload envelopes to a JetStream stream. The subject is
// the prefix plus the destination, or plus the webhook event type when the
// route has no destinations.
type JetStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	clock  clockwork.Clock
}

func NewJetStream(cfg JetStreamConfig, clock clockwork.Clock) (*JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &JetStream{nc: nc, js: js, config: cfg, clock: clock}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStream) Name() string { return p.config.Name }

// Conn exposes the NATS connection for health checks.
func (p *JetStream) Conn() *nats.Conn { return p.nc }

func (p *JetStream) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Domain event payloads",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

func (p *JetStream) Send(ctx context.Context, destinations []string, pl payload.Payload) error {
	env := NewEnvelope(pl, p.clock.Now())
	data, err := json.Marshal(env)
	if err != nil {
		return permanent(fmt.Errorf("marshal event: %w", err))
	}

	for _, subject := range subjects(p.config.SubjectPrefix, destinations, env.WebhookEventType) {
		ack, err := p.js.PublishMsg(ctx, &nats.Msg{
			Subject: subject,
			Data:    data,
			Header: nats.Header{
				"Event-Type":         []string{env.EventType},
				"Webhook-Event-Type": []string{env.WebhookEventType},
				"Event-ID":           []string{env.EventID},
			},
		},
			jetstream.WithMsgID(dedupeID(env, subject)),
			jetstream.WithExpectStream(p.config.StreamName),
		)
		if err != nil {
			return fmt.Errorf("publish to JetStream: %w", err)
		}

		log.Debug().
			Str("subject", subject).
			Str("event_id", env.EventID).
			Uint64("sequence", ack.Sequence).
			Str("stream", ack.Stream).
			Bool("duplicate", ack.Duplicate).
			Msg("published to JetStream")
	}
	return nil
}

func (p *JetStream) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func subjects(prefix string, destinations []string, webhookEventType string) []string {
	if len(destinations) == 0 {
		if webhookEventType == "" {
			webhookEventType = "unknown"
		}
		return []string{prefix + "." + webhookEventType}
	}
	out := make([]string, len(destinations))
	for i, d := range destinations {
		out[i] = prefix + "." + d
	}
	return out
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
