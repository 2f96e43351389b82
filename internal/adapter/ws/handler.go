// Package ws implements the WebSocket adapter that streams a session's
// notifications to its live subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/keepup/cowork/internal/port/broadcast"
)

// writeTimeout bounds a single frame write so one slow client cannot hold
// up delivery to the others.
const writeTimeout = 5 * time.Second

// conn wraps a single WebSocket connection.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	cancel    context.CancelFunc
	mu        sync.Mutex // serializes writes
}

// Hub tracks the live subscribers of every session and fans events out to
// them. Events for a session without subscribers are dropped.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*conn]struct{}
	origins  []string
}

// NewHub creates a new WebSocket hub. origins lists the host patterns
// accepted in the Origin header; empty means same-origin only.
func NewHub(origins ...string) *Hub {
	return &Hub{
		sessions: make(map[string]map[*conn]struct{}),
		origins:  origins,
	}
}

// Serve upgrades the request and subscribes the connection to sessionID.
// It blocks until the client disconnects or the request context ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("websocket accept failed", "error", err, "session_id", sessionID)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, sessionID: sessionID, cancel: cancel}
	h.add(c)
	slog.Info("websocket connected", "remote", r.RemoteAddr, "session_id", sessionID)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()
	// Clients never send anything meaningful; reading detects disconnects
	// and keeps control frames flowing.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// Publish implements broadcast.Publisher for the local process.
func (h *Hub) Publish(ctx context.Context, sessionID, eventType string, payload any) {
	data, err := json.Marshal(broadcast.Event{Type: eventType, SessionID: sessionID, Payload: payload})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err, "event", eventType)
		return
	}
	h.Deliver(ctx, sessionID, data)
}

// Deliver writes an already encoded event to every subscriber of
// sessionID. Failed connections are dropped.
func (h *Hub) Deliver(ctx context.Context, sessionID string, data []byte) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(ctx, data); err != nil {
			slog.Debug("websocket write failed", "error", err, "session_id", sessionID)
			h.remove(c)
		}
	}
}

func (c *conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of subscribers of sessionID.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.sessionID]
	if !ok {
		set = make(map[*conn]struct{})
		h.sessions[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		c.cancel()
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
		slog.Info("websocket disconnected", "session_id", c.sessionID)
	}
}
