package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	Dispatcher        string    `json:"dispatcher"`
	Running           bool      `json:"running"`
	Position          int64     `json:"position"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int64     `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type ListenerStatus interface {
	Active() bool
}

type HealthConfig struct {
	DB       Pinger
	NATS     *nats.Conn     // optional
	Listener ListenerStatus // optional
	// Threshold is how long pending events may wait without progress.
	Threshold  time.Duration
	MaxPending int64
	Clock      clockwork.Clock
}

type HealthChecker struct {
	dispatcher *Dispatcher
	cfg        HealthConfig
}

func NewHealthChecker(d *Dispatcher, cfg HealthConfig) *HealthChecker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5 * time.Minute
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1000
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &HealthChecker{dispatcher: d, cfg: cfg}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:    true,
		Dispatcher: h.dispatcher.Name(),
		Running:    h.dispatcher.Running(),
		Errors:     []string{},
	}
	status.EventsProcessed, status.LastEventTime = h.dispatcher.Stats()

	if !status.Running {
		status.Healthy = false
		status.Errors = append(status.Errors, "dispatcher not running")
	}

	status.DatabaseConnected = true
	if h.cfg.DB != nil {
		if err := h.cfg.DB.PingContext(ctx); err != nil {
			status.DatabaseConnected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
	}

	if h.cfg.NATS != nil {
		status.NATSConnected = h.cfg.NATS.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	// Polling still delivers without the listener, so it only reports.
	if h.cfg.Listener != nil {
		status.ListenerActive = h.cfg.Listener.Active()
		if !status.ListenerActive {
			status.Errors = append(status.Errors, "listener not active")
		}
	}

	if status.DatabaseConnected {
		if pos, err := h.dispatcher.Position(ctx); err == nil {
			status.Position = pos
		}
		pending, err := h.dispatcher.Lag(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > h.cfg.MaxPending {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		idle := h.cfg.Clock.Since(status.LastEventTime)
		if idle > h.cfg.Threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events processed for %s", idle))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// HealthCollector exports the health check as Prometheus gauges. The check
// runs on every scrape.
type HealthCollector struct {
	checker *HealthChecker

	healthy   *prometheus.Desc
	position  *prometheus.Desc
	pending   *prometheus.Desc
	database  *prometheus.Desc
	natsConn  *prometheus.Desc
	listener  *prometheus.Desc
	lastEvent *prometheus.Desc
}

func NewHealthCollector(checker *HealthChecker) *HealthCollector {
	labels := prometheus.Labels{"dispatcher": checker.dispatcher.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, nil, labels)
	}
	return &HealthCollector{
		checker:   checker,
		healthy:   desc("dispatcher_healthy", "Whether the dispatcher is healthy"),
		position:  desc("dispatcher_position", "Last checkpointed sequence"),
		pending:   desc("dispatcher_pending_events", "Events after the cursor"),
		database:  desc("dispatcher_database_connected", "Whether the database is reachable"),
		natsConn:  desc("dispatcher_nats_connected", "Whether NATS is connected"),
		listener:  desc("dispatcher_listener_active", "Whether the notification listener is active"),
		lastEvent: desc("dispatcher_last_event_timestamp_seconds", "Unix time of the last processed event"),
	}
}

func (c *HealthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.position
	ch <- c.pending
	ch <- c.database
	ch <- c.natsConn
	ch <- c.listener
	ch <- c.lastEvent
}

func (c *HealthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := c.checker.Check(ctx)
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	gauge(c.healthy, boolGauge(status.Healthy))
	gauge(c.position, float64(status.Position))
	gauge(c.pending, float64(status.PendingEvents))
	gauge(c.database, boolGauge(status.DatabaseConnected))
	gauge(c.natsConn, boolGauge(status.NATSConnected))
	gauge(c.listener, boolGauge(status.ListenerActive))
	var last float64
	if !status.LastEventTime.IsZero() {
		last = float64(status.LastEventTime.Unix())
	}
	gauge(c.lastEvent, last)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
