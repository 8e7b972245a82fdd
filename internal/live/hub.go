// Package live pushes quiz state and timer ticks to browsers over
// WebSockets.
package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/quizdeck/internal/runner"
	"github.com/coder/websocket"
)

const sendBuffer = 8

// Message is the envelope written to subscribers.
type Message struct {
	Type           string       `json:"type"`
	View           *runner.View `json:"view,omitempty"`
	Code           string       `json:"code,omitempty"`
	Elapsed        string       `json:"elapsed,omitempty"`
	ElapsedSeconds int64        `json:"elapsed_seconds,omitempty"`
}

// Subscriber is one open WebSocket watching a session.
type Subscriber struct {
	conn *websocket.Conn
	send chan Message
	code string
}

// Hub tracks subscribers per resume code. It implements runner.Publisher.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*Subscriber]struct{}
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[*Subscriber]struct{}),
	}
}

// Register adds a subscriber for code.
func (h *Hub) Register(code string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{conn: conn, send: make(chan Message, sendBuffer), code: code}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.active[code]; !exists {
		h.active[code] = make(map[*Subscriber]struct{})
	}
	h.active[code][sub] = struct{}{}
	slog.Info("Live subscriber registered", "code", code, "subscribers", len(h.active[code]))
	return sub
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[sub.code]
	if !ok {
		return
	}
	if _, exists := subs[sub]; exists {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.active, sub.code)
		}
		slog.Info("Live subscriber unregistered", "code", sub.code)
	}
}

// CodeOf returns the code sub currently follows. It changes when the
// session is saved under a new code.
func (h *Hub) CodeOf(sub *Subscriber) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sub.code
}

// Subscribers returns the number of subscribers for code.
func (h *Hub) Subscribers(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[code])
}

// Publish queues a state message for every subscriber of code.
func (h *Hub) Publish(code string, v runner.View) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.active[code] {
		sub.enqueue(Message{Type: "state", View: &v})
	}
}

// Rename moves subscribers of oldCode to newCode and tells them about it.
func (h *Hub) Rename(oldCode, newCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[oldCode]
	if !ok {
		return
	}
	delete(h.active, oldCode)
	if _, exists := h.active[newCode]; !exists {
		h.active[newCode] = make(map[*Subscriber]struct{})
	}
	for sub := range subs {
		sub.code = newCode
		h.active[newCode][sub] = struct{}{}
		sub.enqueue(Message{Type: "renamed", Code: newCode})
	}
}

// Close terminates every subscriber of code.
func (h *Hub) Close(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[code]
	if !ok {
		return
	}
	for sub := range subs {
		_ = sub.conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	delete(h.active, code)
	slog.Info("Live session closed", "code", code)
}

// enqueue never blocks the publisher. A full buffer drops the message; the
// next state or tick supersedes it.
func (s *Subscriber) enqueue(msg Message) {
	select {
	case s.send <- msg:
	default:
		slog.Debug("Live subscriber buffer full, dropping message", "type", msg.Type)
	}
}

var _ runner.Publisher = (*Hub)(nil)
