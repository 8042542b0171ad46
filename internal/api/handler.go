// Package api provides the local HTTP API the presentation layer talks to.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fluxion-chat/internal/chat"
	"github.com/ashureev/fluxion-chat/internal/connection"
	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/protocol"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20 // 1MB

// Handler serves the chat, settings and state endpoints.
type Handler struct {
	svc     *chat.Service
	broker  *Broker
	limiter *RateLimiter
}

// NewHandler creates a handler. A nil limiter disables send throttling.
func NewHandler(svc *chat.Service, broker *Broker, limiter *RateLimiter) *Handler {
	return &Handler{svc: svc, broker: broker, limiter: limiter}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.SendMessage)
		r.Delete("/messages", h.ClearHistory)
		r.Get("/progress", h.ListProgress)
		r.Get("/settings/llm", h.GetSettings)
		r.Put("/settings/llm", h.UpdateSettings)
		r.Get("/providers", h.ListProviders)
		r.Get("/stream", h.broker.HandleStream)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// GetState returns the full client view.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.svc.View())
}

// ListMessages returns the message log.
func (h *Handler) ListMessages(w http.ResponseWriter, _ *http.Request) {
	msgs := h.svc.Messages()
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// ListProgress returns the progress log.
func (h *Handler) ListProgress(w http.ResponseWriter, _ *http.Request) {
	events := h.svc.Progress()
	if events == nil {
		events = []domain.ProgressEvent{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"progress": events})
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendMessage handles POST /api/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err := h.svc.SendMessage(r.Context(), req.Content)
	switch {
	case err == nil:
		JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
	case errors.Is(err, connection.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, connection.ErrNotConnected):
		Error(w, http.StatusConflict, "not connected to agent")
	default:
		slog.Error("Failed to send message", "error", err)
		Error(w, http.StatusBadGateway, "failed to send message")
	}
}

// ClearHistory handles DELETE /api/messages.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearHistory(r.Context()); err != nil {
		// The local logs are already empty; only the backend request failed.
		slog.Warn("Backend history clear failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the current LLM selection.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.svc.Settings())
}

type settingsRequest struct {
	Provider domain.Provider `json:"provider"`
	Model    string          `json:"model"`
}

// UpdateSettings handles PUT /api/settings/llm. A provider change resets the
// model to the provider default unless a model is also given.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.svc.UpdateSettings(req.Provider, req.Model)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, cfg)
	case errors.Is(err, chat.ErrUnknownProvider), errors.Is(err, chat.ErrInvalidModel):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Failed to update settings", "error", err)
		Error(w, http.StatusInternalServerError, "failed to update settings")
	}
}

type providerInfo struct {
	ID           domain.Provider `json:"id"`
	Label        string          `json:"label"`
	BackendID    string          `json:"backend_id"`
	Models       []string        `json:"models"`
	DefaultModel string          `json:"default_model"`
}

// ListProviders returns the provider catalog.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	providers := make([]providerInfo, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		spec, _ := p.Spec()
		providers = append(providers, providerInfo{
			ID:           p,
			Label:        spec.Label,
			BackendID:    protocol.BackendProvider(p),
			Models:       spec.Models,
			DefaultModel: spec.DefaultModel,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

// clientKey identifies the caller for rate limiting. RealIP middleware has
// already rewritten RemoteAddr when a proxy header is present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
