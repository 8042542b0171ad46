package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fluxion-chat/internal/connection"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource reports the backend connection state.
type StatusSource interface {
	Status() connection.Status
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store Pinger
	conn  StatusSource
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger, conn StatusSource) *HealthHandler {
	return &HealthHandler{store: store, conn: conn}
}

// Health returns the health of the local store and the backend connection.
// Only an unreachable store makes the client unhealthy; being disconnected
// from the agent is reported but expected.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	checks["agent"] = string(h.conn.Status())

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
