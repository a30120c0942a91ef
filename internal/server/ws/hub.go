// Package ws bridges the engine's event feed to WebSocket clients. Each
// connected client receives JSON event frames, optionally filtered to a
// set of market IDs.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// EventSource feeds the hub with live events, typically the Redis event
// stream. In memory mode the hub is wired straight into the engine as a
// sink instead and no source is configured.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// upgrader configures the WebSocket upgrade parameters. Origin policy is
// enforced by the CORS middleware in front of the mux.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	// markets the client filtered to; empty means all markets.
	markets map[string]bool
}

// subscribeMsg is the JSON message a client sends to narrow or widen its
// market filter.
type subscribeMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Markets []string `json:"markets"`
}

// eventFrame is the wire format for one event. Amounts are decimal strings.
type eventFrame struct {
	Type    string       `json:"type"` // always "event"
	Payload framePayload `json:"payload"`
}

type framePayload struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome,omitempty"`
	Shares    string    `json:"shares,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Fee       string    `json:"fee,omitempty"`
	QYes      string    `json:"q_yes"`
	QNo       string    `json:"q_no"`
	Pool      string    `json:"pool"`
	CreatedAt time.Time `json:"created_at"`
}

func frameOf(ev domain.Event) ([]byte, string, error) {
	p := framePayload{
		ID:        ev.ID,
		MarketID:  ev.MarketID,
		EventType: string(ev.Type),
		Actor:     ev.Actor,
		Outcome:   string(ev.Outcome),
		Shares:    optString(ev.Shares),
		Amount:    optString(ev.Amount),
		Fee:       optString(ev.Fee),
		QYes:      optString(ev.QYes),
		QNo:       optString(ev.QNo),
		Pool:      optString(ev.Pool),
		CreatedAt: ev.CreatedAt,
	}
	data, err := json.Marshal(eventFrame{Type: "event", Payload: p})
	return data, ev.MarketID, err
}

func optString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// broadcastMsg carries a marshaled frame with its market ID so the hub can
// route it only to clients watching that market.
type broadcastMsg struct {
	marketID string
	data     []byte
}

// Hub manages connected WebSocket clients and fans out market events.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	source     EventSource // nil when fed directly via Publish
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub. source may be nil; in that case events arrive via
// Publish only.
func NewHub(source EventSource, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		source:     source,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Publish implements domain.EventSink so memory-mode deployments can wire
// the hub straight into the engine. Marshal failures are logged and the
// event is dropped; a sink never unwinds a committed transition.
func (h *Hub) Publish(_ context.Context, ev domain.Event) {
	data, marketID, err := frameOf(ev)
	if err != nil {
		h.logger.Error("marshal event frame", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{marketID: marketID, data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", slog.String("event_id", ev.ID))
	}
}

// Run starts the hub's main loop: client registration, unregistration and
// fanout. It exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.source != nil {
		go h.consumeSource(ctx)
	}

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
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.watches(msg.marketID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; drop the frame.
					h.logger.Warn("dropping frame for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// consumeSource pulls events from the configured source and feeds the
// broadcast loop.
func (h *Hub) consumeSource(ctx context.Context) {
	ch, err := h.source.Subscribe(ctx)
	if err != nil {
		h.logger.Error("subscribe to event source failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				h.logger.Warn("event source closed")
				return
			}
			h.Publish(ctx, ev)
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[string]bool),
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// watches reports whether the client should receive frames for the market.
// An empty filter means all markets.
func (c *client) watches(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		return true
	}
	return c.markets[marketID]
}

// readPump reads filter-management messages from the connection.
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription narrows or widens the client's market filter.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Markets {
			c.markets[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Markets {
			delete(c.markets, id)
		}
	}
}

// sendHello pushes a small JSON envelope so clients can immediately mark
// the connection as healthy even when no market events are flowing yet.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps frames from the hub to the connection and sends periodic
// ping frames for keepalive.
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

// Compile-time interface check.
var _ domain.EventSink = (*Hub)(nil)
