package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service health.
type HealthHandler struct {
	repo Pinger
	live func() int
}

// NewHealthHandler creates a health handler. live reports the number of
// in-memory sessions and may be nil.
func NewHealthHandler(repo Pinger, live func() int) *HealthHandler {
	return &HealthHandler{repo: repo, live: live}
}

// RegisterHealth registers the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health pings the store and returns 503 when it is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{"status": "ok", "database": "ok"}
	if h.live != nil {
		body["live_sessions"] = h.live()
	}
	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		body["status"] = "degraded"
		body["database"] = "unreachable"
		JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	JSON(w, http.StatusOK, body)
}
