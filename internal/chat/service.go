// Package chat exposes the operations the presentation layer performs:
// sending a message, clearing history, choosing the LLM and reading state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/fluxion-chat/internal/connection"
	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/state"
)

var (
	// ErrUnknownProvider is returned when selecting a provider outside the catalog.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidModel is returned when a model is not offered by the current provider.
	ErrInvalidModel = errors.New("model not offered by provider")
)

// Conn is the part of the connection manager the service drives.
type Conn interface {
	Send(ctx context.Context, content string) error
	RequestClearHistory(ctx context.Context) error
	Status() connection.Status
}

// View is a read-only picture of everything the presentation layer renders.
type View struct {
	state.SessionSnapshot
	LLM    domain.LLMConfig  `json:"llm"`
	Status connection.Status `json:"status"`
}

// Service implements the collaborator operations over the app state and the
// live connection.
type Service struct {
	app    *state.App
	conn   Conn
	logger *slog.Logger
}

// NewService creates a service. A nil logger uses slog.Default().
func NewService(app *state.App, conn Conn, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{app: app, conn: conn, logger: logger}
}

// SendMessage trims text and sends it. Blank text is rejected with
// connection.ErrEmptyMessage and sending while disconnected with
// connection.ErrNotConnected; neither changes state.
func (s *Service) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return connection.ErrEmptyMessage
	}
	return s.conn.Send(ctx, text)
}

// ClearHistory empties the local message and progress logs and then asks the
// backend to clear its copy. Being disconnected is not an error: the local
// clear still applies.
func (s *Service) ClearHistory(ctx context.Context) error {
	s.app.Session.ClearAll()
	err := s.conn.RequestClearHistory(ctx)
	if errors.Is(err, connection.ErrNotConnected) {
		s.logger.Info("History cleared locally only, backend not connected")
		return nil
	}
	if err != nil {
		return fmt.Errorf("request backend history clear: %w", err)
	}
	return nil
}

// SelectProvider switches provider and resets the model to its default.
func (s *Service) SelectProvider(p domain.Provider) (domain.LLMConfig, error) {
	if !s.app.Settings.SetProvider(p) {
		return s.app.Settings.Config(), fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	cfg := s.app.Settings.Config()
	s.logger.Info("LLM provider selected", "provider", cfg.Provider, "model", cfg.Model)
	return cfg, nil
}

// SelectModel switches model within the current provider.
func (s *Service) SelectModel(model string) (domain.LLMConfig, error) {
	cfg := s.app.Settings.Config()
	if !cfg.Provider.AllowsModel(model) {
		return cfg, fmt.Errorf("%w: %q for %s", ErrInvalidModel, model, cfg.Provider)
	}
	s.app.Settings.SetModel(model)
	cfg = s.app.Settings.Config()
	s.logger.Info("LLM model selected", "provider", cfg.Provider, "model", cfg.Model)
	return cfg, nil
}

// UpdateSettings applies an optional provider and then an optional model, in
// that order, so a provider switch can be combined with a model choice.
func (s *Service) UpdateSettings(provider domain.Provider, model string) (domain.LLMConfig, error) {
	cfg := s.app.Settings.Config()
	if provider != "" && provider != cfg.Provider {
		var err error
		if cfg, err = s.SelectProvider(provider); err != nil {
			return cfg, err
		}
	}
	if model != "" && model != cfg.Model {
		return s.SelectModel(model)
	}
	return cfg, nil
}

// View returns the current state.
func (s *Service) View() View {
	return View{
		SessionSnapshot: s.app.Session.Snapshot(),
		LLM:             s.app.Settings.Config(),
		Status:          s.conn.Status(),
	}
}

// Messages returns the message log.
func (s *Service) Messages() []domain.Message {
	return s.app.Session.Messages()
}

// Progress returns the progress log.
func (s *Service) Progress() []domain.ProgressEvent {
	return s.app.Session.Progress()
}

// Settings returns the current LLM selection.
func (s *Service) Settings() domain.LLMConfig {
	return s.app.Settings.Config()
}
