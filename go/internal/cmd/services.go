package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/channels"
	"github.com/mcdev12/tixmarket/go/internal/config"
	"github.com/mcdev12/tixmarket/go/internal/dbconfig"
	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/interactions"
	"github.com/mcdev12/tixmarket/go/internal/payload"
	"github.com/mcdev12/tixmarket/go/internal/transfer"
)

type Services struct {
	Transfers   *transfer.App
	Dispatchers []*dispatcher.Dispatcher
	Health      map[string]*dispatcher.HealthChecker
	Registry    *prometheus.Registry
	Push        *channels.PushHub
	PushPath    string
	Listener    *eventlog.Listener

	closers []func() error
}

func setupServices(ctx context.Context, database *sqlx.DB, cfg *config.Config) (*Services, error) {
	// Database layer → Repository layer → App layer
	clock := clockwork.NewRealClock()
	s := &Services{
		Health:   make(map[string]*dispatcher.HealthChecker),
		Registry: prometheus.NewRegistry(),
	}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	interactionLogger := interactions.NewLogger(clock)
	store := eventlog.NewPostgresStore(database, interactionLogger)
	s.Transfers = transfer.NewApp(transfer.NewPostgresStore(database, interactionLogger), clock)
	builder := payload.NewBuilder(payload.NewPostgresReader(database), s.Transfers, cfg.FrontEndURL)

	checkpoints, err := s.setupCheckpoints(ctx, database, cfg.Checkpoints)
	if err != nil {
		s.Close()
		return nil, err
	}

	chans, jetStream, err := s.setupChannels(cfg, clock)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Listener.Enabled {
		lc := eventlog.DefaultListenerConfig()
		lc.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()
		lc.NotifyChannel = cfg.Listener.NotifyChannel
		listener, err := eventlog.NewListener(lc)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Listener = listener
	}

	recorder := dispatcher.NewPostgresRecorder(database)
	for _, dc := range cfg.Dispatchers {
		metrics := dispatcher.NewPrometheusMetrics(s.Registry, dc.Name)
		d, err := dispatcher.New(dc.Dispatcher(), store, checkpoints, builder, chans, dc.Routes,
			dispatcher.WithRecorder(recorder),
			dispatcher.WithMetrics(metrics),
			dispatcher.WithClock(clock),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("dispatcher %s: %w", dc.Name, err)
		}
		s.Dispatchers = append(s.Dispatchers, d)

		health := dispatcher.HealthConfig{DB: database, Clock: clock}
		if jetStream != nil {
			health.NATS = jetStream.Conn()
		}
		if s.Listener != nil {
			health.Listener = s.Listener
		}
		s.Health[dc.Name] = dispatcher.NewHealthChecker(d, health)
		s.Registry.MustRegister(dispatcher.NewHealthCollector(s.Health[dc.Name]))
	}

	return s, nil
}

func (s *Services) setupCheckpoints(ctx context.Context, database *sqlx.DB, cfg config.CheckpointConfig) (eventlog.CheckpointStore, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis checkpoints")
		return eventlog.NewRedisCheckpoints(client, cfg.RedisPrefix), nil
	case "memory":
		log.Warn().Msg("using in-memory checkpoints, dispatch restarts from the beginning")
		return eventlog.NewMemoryCheckpoints(), nil
	default:
		return eventlog.NewPostgresCheckpoints(database), nil
	}
}

func (s *Services) setupChannels(cfg *config.Config, clock clockwork.Clock) ([]channels.Channel, *channels.JetStream, error) {
	var chans []channels.Channel
	var jetStream *channels.JetStream

	for _, w := range cfg.Channels.Webhooks {
		chans = append(chans, channels.NewWebhook(channels.WebhookConfig{
			Name:    w.Name,
			URL:     w.URL,
			Timeout: w.Timeout,
			Headers: w.Headers,
		}, clock))
	}

	if c := cfg.Channels.JetStream; c != nil {
		jc := channels.DefaultJetStreamConfig()
		jc.Name = c.Name
		jc.URL = c.URL
		if c.StreamName != "" {
			jc.StreamName = c.StreamName
		}
		if c.SubjectPrefix != "" {
			jc.SubjectPrefix = c.SubjectPrefix
		}
		js, err := channels.NewJetStream(jc, clock)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, js.Close)
		chans = append(chans, js)
		jetStream = js
	}

	if c := cfg.Channels.Kafka; c != nil {
		k, err := channels.NewKafka(channels.KafkaConfig{Name: c.Name, Brokers: c.Brokers, Topic: c.Topic}, clock)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, k.Close)
		chans = append(chans, k)
	}

	if c := cfg.Channels.RabbitMQ; c != nil {
		r, err := channels.NewRabbitMQ(channels.RabbitMQConfig{Name: c.Name, URL: c.URL, Exchange: c.Exchange}, clock)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, r.Close)
		chans = append(chans, r)
	}

	if c := cfg.Channels.Push; c != nil {
		pc := channels.DefaultPushConfig()
		pc.Name = c.Name
		s.Push = channels.NewPushHub(pc, clock)
		s.PushPath = c.Path
		s.closers = append(s.closers, s.Push.Close)
		chans = append(chans, s.Push)
	}

	for _, name := range cfg.Channels.Log {
		chans = append(chans, channels.NewLogChannel(name))
	}

	names := make([]string, len(chans))
	for i, ch := range chans {
		names[i] = ch.Name()
	}
	log.Info().Strs("channels", names).Msg("channels ready")
	return chans, jetStream, nil
}

// WakeAll forwards a notification to every dispatcher.
func (s *Services) WakeAll(seq int64) {
	for _, d := range s.Dispatchers {
		d.Wake(seq)
	}
}

func (s *Services) Close() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("failed to close services")
	}
}
