// Package stream implements the subscription registry and the per-tick
// distribution fan-out: it tracks which live WebSocket connection belongs
// to which user and pushes price and notification events.
package stream

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockdash/trading-engine/internal/auth"
	"github.com/stockdash/trading-engine/internal/metrics"
	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/position"
)

// Message is the JSON envelope sent to WebSocket clients.
//
// Types: "price_update" (instrument the user holds), "market_update"
// (general ticker), "subscribed_list" (initial snapshot on connect),
// "notification" (out-of-band messages).
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notification is the payload of a "notification" message.
type Notification struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

// Sender is the write side of one connection. *websocket.Conn satisfies
// it; tests substitute a fake.
type Sender interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one registered connection bound to a user. The binding is a
// weak reference: the hub never owns user records, and the entry lives
// exactly as long as the connection.
type Client struct {
	userID string
	conn   Sender
	mu     sync.Mutex // gorilla permits one concurrent writer per conn
}

func (c *Client) write(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub is the subscription registry plus fan-out. Mutated by
// connect/disconnect, read by the tick driver; all access goes through
// the mutex and broadcast iterates over a snapshot of the client set.
type Hub struct {
	auth      *auth.Manager
	positions *position.Manager

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub. The position manager supplies each user's watched
// instrument set and the connect-time position snapshot.
func NewHub(am *auth.Manager, pm *position.Manager) *Hub {
	return &Hub{
		auth:      am,
		positions: pm,
		clients:   make(map[*Client]struct{}),
	}
}

// Register binds a connection to a user and returns its handle.
func (h *Hub) Register(userID string, conn Sender) *Client {
	c := &Client{userID: userID, conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	slog.Info("ws client connected", "user", userID, "total", total)
	return c
}

// Unregister removes a connection and closes it. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		metrics.WebSocketClients.Set(float64(total))
	}
}

// snapshot returns the current client set. Broadcast iterates over the
// snapshot, so concurrent connects/disconnects never panic the tick
// driver or skip unrelated clients.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// BroadcastTick pushes one tick to every connection. Every connection
// receives an event for every instrument in the snapshot: "price_update"
// if the user holds it, "market_update" otherwise. The payload is the
// same; the label lets a client render owned holdings differently. All
// connections
// see the same snapshot; a write failure drops only that connection.
func (h *Hub) BroadcastTick(points map[string]model.PricePoint) {
	metrics.TicksTotal.Inc()

	instruments := make([]string, 0, len(points))
	for instrument := range points {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	for _, c := range h.snapshot() {
		watched := h.positions.Watched(c.userID)

		for _, instrument := range instruments {
			typ := "market_update"
			if _, ok := watched[instrument]; ok {
				typ = "price_update"
			}
			if err := c.write(Message{Type: typ, Data: points[instrument]}); err != nil {
				slog.Warn("ws write failed, dropping client", "user", c.userID, "err", err)
				h.Unregister(c)
				break
			}
			metrics.BroadcastEvents.WithLabelValues(typ).Inc()
		}
	}
}

// Notify delivers an out-of-band notification to all of the user's live
// connections. Best-effort: if the user is not connected or a write
// fails, the notification is dropped silently, never retried.
func (h *Hub) Notify(userID, kind, message string) {
	payload := Message{Type: "notification", Data: Notification{Kind: kind, Message: message}}

	for _, c := range h.snapshot() {
		if c.userID != userID {
			continue
		}
		if err := c.write(payload); err != nil {
			h.Unregister(c)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /ws. The bearer
// token is passed as a ?token= query parameter, since browsers cannot set
// headers on WebSocket handshakes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := h.Register(userID, conn)

	// Initial snapshot of the user's active positions.
	positions, err := h.positions.ListActive(r.Context(), userID)
	if err != nil {
		slog.Warn("subscribed_list lookup failed", "user", userID, "err", err)
		positions = nil
	}
	if positions == nil {
		positions = []model.Position{}
	}
	if err := c.write(Message{Type: "subscribed_list", Data: positions}); err != nil {
		h.Unregister(c)
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer h.Unregister(c)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[c]
			h.mu.RUnlock()
			if !ok {
				return
			}
			c.mu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}
