package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketpulse/engine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// ackPeriod spaces the JSON ack heartbeats that let dashboard clients
	// show a live connection even when no market moves.
	ackPeriod = 30 * time.Second

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busChannel is the pub/sub channel other instances publish reconciled
// updates on.
const busChannel = "marketpulse:updates"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Subscription is the slice of the query store the hub consumes: a stream
// of reconciled collections for one filter.
type Subscription interface {
	Subscribe(filter domain.Filter) (<-chan domain.Collection, func())
}

// envelope is the wire frame pushed to dashboard clients. Payload carries a
// domain.MarketUpdate for "market_update" frames and is empty for "ack".
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reconciled market updates out to connected WebSocket clients.
// Its source is the query store subscription; when a signal bus is
// configured, frames published by other instances are relayed as well.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	store  Subscription
	filter domain.Filter
	bus    domain.SignalBus // optional, nil without Redis
	logger *slog.Logger

	mode      string
	startedAt time.Time

	mu   sync.RWMutex
	last map[domain.MarketKey]time.Time
}

// Config captures runtime metadata reported to clients on connect.
type Config struct {
	Mode      string
	Filter    domain.Filter
	StartedAt time.Time
}

// NewHub creates a hub streaming the given store subscription. bus may be
// nil.
func NewHub(store Subscription, bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	mode := cfg.Mode
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		store:      store,
		filter:     cfg.Filter.Normalize(),
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
		last:       make(map[domain.MarketKey]time.Time),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, collection diffing, heartbeats, and
// broadcasting. The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	updates, cancel := h.store.Subscribe(h.filter)
	defer cancel()

	if h.bus != nil {
		go h.relayBus(ctx)
	}

	ack := time.NewTicker(ackPeriod)
	defer ack.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case coll, ok := <-updates:
			if !ok {
				// The store shut down; heartbeats keep flowing so clients
				// see the connection itself is still alive.
				updates = nil
				continue
			}
			for _, frame := range h.diff(coll) {
				h.send(frame)
			}

		case <-ack.C:
			if frame, err := marshalEnvelope("ack", nil); err == nil {
				h.send(frame)
			}

		case frame := <-h.broadcast:
			h.send(frame)
		}
	}
}

// diff compares a reconciled collection against the last one broadcast and
// returns one market_update frame per record that is new or carries a newer
// timestamp. Identities absent from the new collection are forgotten but
// produce no frame; partial-update absence never removes.
func (h *Hub) diff(coll domain.Collection) [][]byte {
	seen := make(map[domain.MarketKey]time.Time, len(coll.Markets))
	var frames [][]byte

	for i := range coll.Markets {
		m := coll.Markets[i].Market
		key := m.Key()
		seen[key] = m.UpdatedAt

		prev, known := h.last[key]
		if known && !m.UpdatedAt.After(prev) {
			continue
		}

		payload, err := json.Marshal(updateFromMarket(m))
		if err != nil {
			continue
		}
		frame, err := marshalEnvelope("market_update", payload)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}

	h.last = seen
	return frames
}

// updateFromMarket flattens a canonical record into a full-field partial
// update. Pointer fields are copied so the frame never aliases store memory.
func updateFromMarket(m domain.Market) domain.MarketUpdate {
	u := domain.MarketUpdate{
		Platform:  m.Platform,
		ID:        m.ID,
		Question:  ptr(m.Question),
		Volume:    ptr(m.Volume),
		Change24h: ptr(m.Change24h),
		Status:    ptr(m.Status),
		Timestamp: m.UpdatedAt,
	}
	if m.Category != "" {
		u.Category = ptr(m.Category)
	}
	if m.Probability != nil {
		u.Probability = ptr(*m.Probability)
	}
	if m.Liquidity != nil {
		u.Liquidity = ptr(*m.Liquidity)
	}
	if m.URL != "" {
		u.URL = ptr(m.URL)
	}
	return u
}

func ptr[T any](v T) *T { return &v }

// marshalEnvelope builds one wire frame.
func marshalEnvelope(typ string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(envelope{
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// relayBus forwards frames published by other instances to this hub's
// clients. Frames arrive already in envelope form.
func (h *Hub) relayBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, busChannel)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", busChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: relaying bus channel", slog.String("channel", busChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bus subscription closed",
					slog.String("channel", busChannel),
				)
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// send delivers one frame to every connected client, dropping it for
// clients whose buffers are full.
func (h *Hub) send(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Client's send buffer is full; drop the message.
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- c
	c.sendInitialStatus()

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. Inbound frames are
// discarded; the read loop exists to service pongs and detect closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// sendInitialStatus pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no market events are flowing yet.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"connected":      true,
		"uptime_seconds": uptime,
	})
	if err != nil {
		return
	}
	frame, err := marshalEnvelope("status", payload)
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection. It
// sends JSON text frames for data messages and periodic ping frames for
// keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
