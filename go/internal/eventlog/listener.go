package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL          string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel        string        // Channel name the insert trigger notifies
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:        "domain_events",
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// Listener turns insert notifications into dispatcher wakeups. Notifications
// are only a latency optimisation; dispatchers still poll on their own.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
	active   atomic.Bool
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Int("event", int(ev)).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{listener: l, cfg: cfg}, nil
}

// Start blocks until ctx is done, calling wake with the notified sequence.
// A reconnect produces wake(0) because notifications may have been missed.
func (l *Listener) Start(ctx context.Context, wake func(seq int64)) error {
	l.active.Store(true)
	defer l.active.Store(false)

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("listener started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established
				wake(0)
				continue
			}
			wake(parseSequence(note.Extra))
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Active reports whether Start is running.
func (l *Listener) Active() bool {
	return l.active.Load()
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func parseSequence(extra string) int64 {
	seq, err := strconv.ParseInt(extra, 10, 64)
	if err != nil {
		log.Warn().Str("payload", extra).Msg("unexpected notification payload")
		return 0
	}
	return seq
}
