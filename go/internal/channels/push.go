package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

// PushConfig holds configuration for app WebSocket connections
type PushConfig struct {
	Name            string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultPushConfig() PushConfig {
	return PushConfig{
		Name:            "push",
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// PushHub delivers payloads to the connected apps of each destination user.
// A user with no open connection is not an error; the other channels on the
// route cover offline users.
type PushHub struct {
	config   PushConfig
	upgrader websocket.Upgrader
	clock    clockwork.Clock

	mu    sync.RWMutex
	users map[string]map[*pushConn]bool
}

type pushConn struct {
	id          string
	userID      string
	conn        *websocket.Conn
	send        chan []byte
	hub         *PushHub
	connectedAt time.Time
}

func NewPushHub(config PushConfig, clock clockwork.Clock) *PushHub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &PushHub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		clock: clock,
		users: make(map[string]map[*pushConn]bool),
	}
}

func (h *PushHub) Name() string { return h.config.Name }

// ServeHTTP upgrades the request. The user is identified by the user_id
// query parameter, which the auth proxy in front of this endpoint sets.
func (h *PushHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		http.Error(w, "valid user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &pushConn{
		id:          uuid.New().String(),
		userID:      userID,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		connectedAt: h.clock.Now(),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", userID).
		Msg("push connection established")
}

func (h *PushHub) register(c *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*pushConn]bool)
	}
	h.users[c.userID][c] = true
}

func (h *PushHub) unregister(c *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[c.userID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.users, c.userID)
	}
	log.Debug().
		Str("connection_id", c.id).
		Str("user_id", c.userID).
		Msg("push connection unregistered")
}

// Send pushes to every open connection of each destination user, falling
// back to the payload's user_id.
func (h *PushHub) Send(ctx context.Context, destinations []string, p payload.Payload) error {
	if len(destinations) == 0 {
		if userID, ok := p.String("user_id"); ok {
			destinations = []string{userID}
		}
	}
	if len(destinations) == 0 {
		return permanent(errors.New("push payload has no user"))
	}

	data, err := json.Marshal(NewEnvelope(p, h.clock.Now()))
	if err != nil {
		return permanent(fmt.Errorf("marshal event: %w", err))
	}

	for _, userID := range destinations {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivered := h.deliver(userID, data)
		log.Debug().
			Str("user_id", userID).
			Int("connections", delivered).
			Str("webhook_event_type", p.WebhookEventType()).
			Msg("push delivered")
	}
	return nil
}

// deliver queues data on each of the user's connections. Sends happen under
// the read lock so unregister cannot close a channel mid-send.
func (h *PushHub) deliver(userID string, data []byte) int {
	var delivered int
	var slow []*pushConn

	h.mu.RLock()
	for c := range h.users[userID] {
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().
			Str("connection_id", c.id).
			Str("user_id", c.userID).
			Msg("connection send buffer full, closing connection")
		h.unregister(c)
		c.conn.Close()
	}
	return delivered
}

// Stats reports the number of open connections and connected users.
func (h *PushHub) Stats() (connections, users int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.users {
		connections += len(conns)
	}
	return connections, len(h.users)
}

// Close drops every connection.
func (h *PushHub) Close() error {
	h.mu.RLock()
	var all []*pushConn
	for _, conns := range h.users {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
		c.conn.Close()
	}
	return nil
}

func (c *pushConn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only services pongs and close frames; clients never send commands.
func (c *pushConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
