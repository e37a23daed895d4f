package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/channels"
	"github.com/mcdev12/tixmarket/go/internal/eventlog"
	"github.com/mcdev12/tixmarket/go/internal/models"
	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// PayloadBuilder turns domain events into channel payloads.
type PayloadBuilder interface {
	Build(ctx context.Context, event *models.DomainEvent) ([]payload.Payload, error)
	Supports(eventType models.DomainEventType) bool
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithMetrics(m MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// Dispatcher claims events after its cursor, builds their payloads and
// forwards each payload to the channels its routes select. Delivery is at
// least once: the cursor only moves past an event once every routed
// delivery of it succeeded or failed permanently.
type Dispatcher struct {
	config      Config
	store       eventlog.Store
	checkpoints eventlog.CheckpointStore
	builder     PayloadBuilder
	channels    map[string]channels.Channel
	routes      []Route
	recorder    Recorder
	metrics     MetricsCollector
	clock       clockwork.Clock

	loadMu sync.Mutex
	cursor *cursor

	// claimMu makes reserving, claiming and narrowing one step so a batch
	// released in between cannot be claimed twice by this dispatcher.
	claimMu sync.Mutex

	wake      chan struct{}
	running   atomic.Bool
	processed atomic.Uint64
	lastEvent atomic.Int64
}

// New validates routes against the channels and the builder's registry.
func New(
	cfg Config,
	store eventlog.Store,
	checkpoints eventlog.CheckpointStore,
	builder PayloadBuilder,
	chans []channels.Channel,
	routes []Route,
	opts ...Option,
) (*Dispatcher, error) {
	d := &Dispatcher{
		config:      cfg.withDefaults(),
		store:       store,
		checkpoints: checkpoints,
		builder:     builder,
		channels:    make(map[string]channels.Channel, len(chans)),
		routes:      routes,
		recorder:    NewMemoryRecorder(),
		metrics:     NoOpMetricsCollector{},
		clock:       clockwork.NewRealClock(),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	names := make(map[string]bool, len(chans))
	for _, ch := range chans {
		if names[ch.Name()] {
			return nil, fmt.Errorf("duplicate channel name %q", ch.Name())
		}
		names[ch.Name()] = true
		d.channels[ch.Name()] = ch
	}
	if len(routes) == 0 {
		return nil, errors.New("dispatcher has no routes")
	}
	for _, r := range routes {
		if err := r.validate(names, builder); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dispatcher) Name() string { return d.config.Name }

// Run starts the workers and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher %s already running", d.config.Name)
	}
	defer d.running.Store(false)

	cur, err := d.load(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("dispatcher", d.config.Name).
		Int64("position", cur.position()).
		Int("workers", d.config.Workers).
		Dur("poll_interval", d.config.PollInterval).
		Int("batch_size", d.config.BatchSize).
		Msg("dispatcher started")

	var wg sync.WaitGroup
	for i := range d.config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, i)
		}()
	}
	wg.Wait()

	log.Info().Str("dispatcher", d.config.Name).Msg("dispatcher stopped")
	return nil
}

func (d *Dispatcher) work(ctx context.Context, workerID int) {
	logger := log.With().
		Str("dispatcher", d.config.Name).
		Int("worker_id", workerID).
		Logger()

	ticker := d.clock.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		n, err := d.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("dispatch failed, batch will be retried")
		} else if n == d.config.BatchSize {
			// a full batch suggests more are waiting
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-d.wake:
		}
	}
}

// Wake asks an idle worker to poll now. seq is the notified sequence, or 0
// when unknown.
func (d *Dispatcher) Wake(seq int64) {
	if seq > 0 {
		if cur := d.loaded(); cur != nil && seq <= cur.position() {
			return
		}
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Running reports whether Run is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Position returns the last checkpointed sequence.
func (d *Dispatcher) Position(ctx context.Context) (int64, error) {
	cur, err := d.load(ctx)
	if err != nil {
		return 0, err
	}
	return cur.position(), nil
}

// Stats returns the number of events processed and when the last one was.
func (d *Dispatcher) Stats() (processed uint64, last time.Time) {
	if ns := d.lastEvent.Load(); ns != 0 {
		last = time.Unix(0, ns).UTC()
	}
	return d.processed.Load(), last
}

// Lag counts events after the cursor and reports it to the collector.
func (d *Dispatcher) Lag(ctx context.Context) (int64, error) {
	pos, err := d.Position(ctx)
	if err != nil {
		return 0, err
	}
	lag, err := d.store.CountAfterSequence(ctx, pos)
	if err != nil {
		return 0, err
	}
	d.metrics.RecordLag(lag)
	return lag, nil
}

func (d *Dispatcher) loaded() *cursor {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	return d.cursor
}

func (d *Dispatcher) load(ctx context.Context) (*cursor, error) {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	if d.cursor != nil {
		return d.cursor, nil
	}
	seq, err := d.checkpoints.Load(ctx, d.config.Name)
	if err != nil {
		return nil, err
	}
	d.cursor = newCursor(seq)
	return d.cursor, nil
}

// PollOnce claims one batch and dispatches it in sequence order, stopping at
// the first event that could not be fully delivered. It returns the number
// of events claimed.
func (d *Dispatcher) PollOnce(ctx context.Context) (int, error) {
	cur, err := d.load(ctx)
	if err != nil {
		return 0, err
	}

	start := d.clock.Now()
	id, claim, err := d.claim(ctx, cur)
	if err != nil {
		return 0, err
	}
	events := claim.Events()
	if len(events) == 0 {
		return 0, nil
	}

	var through, retry int64
	var dispatchErr error
	for i := range events {
		ev := &events[i]
		if err := d.dispatchEvent(ctx, ev); err != nil {
			retry = ev.Sequence
			dispatchErr = fmt.Errorf("event %d (%s): %w", ev.Sequence, ev.EventType, err)
			break
		}
		through = ev.Sequence
		d.processed.Add(1)
		d.lastEvent.Store(d.clock.Now().UnixNano())
	}

	if dispatchErr != nil {
		_ = claim.Rollback()
	} else if err := claim.Commit(); err != nil {
		log.Warn().Err(err).Str("dispatcher", d.config.Name).Msg("failed to release claim")
	}

	if pos, moved := cur.finish(id, through, retry); moved {
		if err := d.checkpoints.Save(ctx, d.config.Name, pos); err != nil {
			// the next save carries the position forward
			log.Error().Err(err).Str("dispatcher", d.config.Name).Int64("position", pos).Msg("failed to save checkpoint")
		}
	}

	d.metrics.RecordBatchProcessed(len(events), d.clock.Since(start))
	log.Debug().
		Str("dispatcher", d.config.Name).
		Int("claimed", len(events)).
		Int64("through", through).
		Msg("processed batch")

	return len(events), dispatchErr
}

func (d *Dispatcher) claim(ctx context.Context, cur *cursor) (int, eventlog.Claim, error) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	id, after := cur.reserve()
	claim, err := d.store.Claim(ctx, after, d.config.BatchSize)
	if err != nil {
		cur.finish(id, 0, 0)
		return 0, nil, fmt.Errorf("failed to claim events after %d: %w", after, err)
	}
	events := claim.Events()
	if len(events) == 0 {
		_ = claim.Rollback()
		cur.finish(id, 0, 0)
		return id, claim, nil
	}
	cur.claimed(id, events[0].Sequence, events[len(events)-1].Sequence)
	return id, claim, nil
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, ev *models.DomainEvent) error {
	start := d.clock.Now()
	logger := log.With().
		Str("dispatcher", d.config.Name).
		Str("event_id", ev.ID.String()).
		Int64("seq", ev.Sequence).
		Str("event_type", string(ev.EventType)).
		Logger()

	payloads, err := d.builder.Build(ctx, ev)
	if err != nil {
		if unbuildable(err) {
			logger.Error().Err(err).Msg("skipping event that cannot be built")
			d.metrics.RecordSkipped(string(ev.EventType))
			return nil
		}
		d.metrics.RecordEventProcessed(string(ev.EventType), false, d.clock.Since(start))
		return err
	}
	if len(payloads) == 0 {
		logger.Debug().Msg("event produced no payloads")
		d.metrics.RecordSkipped(string(ev.EventType))
		return nil
	}

	var errs []error
	for i, p := range payloads {
		p = p.Stamp(ev)
		webhookEventType := p.WebhookEventType()
		for _, route := range d.routes {
			if !route.matches(ev.EventType, webhookEventType) {
				continue
			}
			dests, ok := route.destinations(p)
			if !ok {
				continue
			}
			ch := d.channels[route.Channel]
			if len(dests) == 0 {
				if err := d.deliver(ctx, logger, ev, i, ch, nil, p); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			for _, dest := range dests {
				if err := d.deliver(ctx, logger, ev, i, ch, []string{dest}, p); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	err = errors.Join(errs...)
	d.metrics.RecordEventProcessed(string(ev.EventType), err == nil, d.clock.Since(start))
	return err
}

// deliver sends p to a single destination, or to the channel's default when
// dests is nil. Permanent failures are recorded and swallowed.
func (d *Dispatcher) deliver(
	ctx context.Context,
	logger zerolog.Logger,
	ev *models.DomainEvent,
	index int,
	ch channels.Channel,
	dests []string,
	p payload.Payload,
) error {
	key := DeliveryKey{
		EventID:          ev.ID,
		Dispatcher:       d.config.Name,
		Channel:          ch.Name(),
		WebhookEventType: p.WebhookEventType(),
		PayloadIndex:     index,
	}
	if len(dests) == 1 {
		key.Destination = dests[0]
	}

	settled, err := d.recorder.Settled(ctx, key)
	if err != nil {
		return err
	}
	if settled {
		logger.Debug().
			Str("channel", key.Channel).
			Str("destination", key.Destination).
			Msg("delivery already settled")
		return nil
	}

	attempts, sendErr := d.publishWithRetry(ctx, logger, ch, dests, p)
	delivery := Delivery{
		EventID:          ev.ID,
		Sequence:         ev.Sequence,
		Dispatcher:       key.Dispatcher,
		Channel:          key.Channel,
		Destination:      key.Destination,
		WebhookEventType: key.WebhookEventType,
		PayloadIndex:     key.PayloadIndex,
		Success:          sendErr == nil,
		Permanent:        errors.Is(sendErr, channels.ErrPermanent),
		Attempts:         attempts,
		AttemptedAt:      d.clock.Now().UTC(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		delivery.Error = &msg
	}
	if err := d.recorder.Record(ctx, delivery); err != nil {
		logger.Error().Err(err).Str("channel", key.Channel).Msg("failed to record delivery")
	}

	switch {
	case sendErr == nil:
		return nil
	case delivery.Permanent:
		logger.Error().
			Err(sendErr).
			Str("channel", key.Channel).
			Str("destination", key.Destination).
			Str("webhook_event_type", key.WebhookEventType).
			Msg("dropping undeliverable payload")
		return nil
	default:
		return fmt.Errorf("%s delivery to %q: %w", key.Channel, key.Destination, sendErr)
	}
}

func (d *Dispatcher) publishWithRetry(
	ctx context.Context,
	logger zerolog.Logger,
	ch channels.Channel,
	dests []string,
	p payload.Payload,
) (int, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx, d.config.RetryDelay*time.Duration(attempt)); err != nil {
				return attempt, err
			}
		}

		err := ch.Send(ctx, dests, p)
		d.metrics.RecordPublishAttempt(ch.Name(), attempt+1, err == nil)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if errors.Is(err, channels.ErrPermanent) {
			return attempt + 1, err
		}
		logger.Warn().
			Err(err).
			Str("channel", ch.Name()).
			Int("attempt", attempt+1).
			Msg("failed to publish payload, retrying")
	}

	return d.config.MaxRetries + 1, fmt.Errorf("failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}

func (d *Dispatcher) backoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(delay):
		return nil
	}
}

// unbuildable reports build errors that will not go away on retry.
func unbuildable(err error) bool {
	return errors.Is(err, payload.ErrUnsupportedEventType) ||
		errors.Is(err, payload.ErrMissingMainID) ||
		errors.Is(err, models.ErrNotFound)
}
