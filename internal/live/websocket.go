package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/ashureev/quizdeck/internal/identity"
	"github.com/ashureev/quizdeck/internal/report"
	"github.com/ashureev/quizdeck/internal/runner"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const (
	tickInterval = time.Second
	writeTimeout = 5 * time.Second
)

// Source is the runner surface the live channel reads from.
type Source interface {
	Resume(ctx context.Context, code string) (runner.View, error)
	Elapsed(code string) (elapsed time.Duration, visible, ok bool)
}

// WebSocketHandler streams one session's state and timer ticks.
type WebSocketHandler struct {
	hub           *Hub
	source        Source
	allowedOrigin string
	isDev         bool
	tick          time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, source Source, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		source:        source,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		tick:          tickInterval,
	}
}

// inbound is a client message. Only pings are understood.
type inbound struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	deviceID := identity.DeviceIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "code", code, "device_id", deviceID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Resolve before upgrading so unknown codes get a plain HTTP error.
	view, err := h.source.Resume(r.Context(), code)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrValidation):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "code", code)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "code", code)
		}
	}()

	sub := h.hub.Register(view.Code, ws)
	defer h.hub.Unregister(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.write(ctx, ws, Message{Type: "state", View: &view}); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "code", view.Code)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Read loop: client pings and close detection.
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, sub)
	}()

	// Write loop: published state and timer ticks.
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, sub)
	}()

	wg.Wait()
	slog.Info("Live session ended", "code", h.hub.CodeOf(sub))
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sub *Subscriber) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "code", h.hub.CodeOf(sub))
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "code", h.hub.CodeOf(sub))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			sub.enqueue(Message{Type: "pong"})
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.send:
			if err := h.write(ctx, ws, msg); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		case <-ticker.C:
			elapsed, visible, ok := h.source.Elapsed(h.hub.CodeOf(sub))
			if !ok || !visible {
				continue
			}
			tick := Message{
				Type:           "tick",
				Elapsed:        report.FormatElapsed(elapsed),
				ElapsedSeconds: int64(elapsed / time.Second),
			}
			if err := h.write(ctx, ws, tick); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, msg)
}
