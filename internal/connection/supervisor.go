package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/fluxion-chat/internal/state"
)

// RetryPolicy controls reconnects after a drop or a failed dial. A zero
// MaxAttempts disables retries; the connection is then re-established only
// when the identity tuple changes.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before retry number attempt, starting at zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Supervisor keeps the Manager connected for the current identity tuple:
// client id, token and the selected provider and model.
type Supervisor struct {
	mgr    *Manager
	app    *state.App
	token  string
	retry  RetryPolicy
	logger *slog.Logger

	trigger chan struct{}
}

// NewSupervisor creates a supervisor. A nil logger uses slog.Default().
func NewSupervisor(mgr *Manager, app *state.App, token string, retry RetryPolicy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		mgr:     mgr,
		app:     app,
		token:   token,
		retry:   retry,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// poke requests a reconcile. Pending requests coalesce into one.
func (s *Supervisor) poke() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles the connection on every identity change until ctx is
// cancelled, then closes the connection before returning.
func (s *Supervisor) Run(ctx context.Context) {
	unsubSettings := s.app.Settings.Subscribe(func(state.Change) { s.poke() })
	unsubSession := s.app.Session.Subscribe(func(ch state.Change) {
		if ch.Slice == state.SliceClientID {
			s.poke()
		}
	})
	defer func() {
		unsubSettings()
		unsubSession()
		s.mgr.Close()
		s.logger.Info("Connection supervisor stopped")
	}()

	var (
		attempts int
		timer    *time.Timer
		retryC   <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, retryC = nil, nil
	}
	scheduleRetry := func(reason string) {
		stopTimer()
		if s.retry.MaxAttempts <= 0 {
			return
		}
		if attempts >= s.retry.MaxAttempts {
			s.logger.Warn("Giving up reconnecting", "attempts", attempts, "reason", reason)
			return
		}
		delay := s.retry.Delay(attempts)
		attempts++
		s.logger.Info("Scheduling reconnect", "attempt", attempts, "delay", delay, "reason", reason)
		timer = time.NewTimer(delay)
		retryC = timer.C
	}
	reconcile := func() {
		if err := s.mgr.EnsureConnected(ctx, s.target()); err != nil {
			if ctx.Err() != nil {
				return
			}
			scheduleRetry(err.Error())
			return
		}
		attempts = 0
	}
	defer stopTimer()

	s.poke()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			stopTimer()
			attempts = 0
			reconcile()
		case err := <-s.mgr.Drops():
			reason := "connection dropped"
			if err != nil {
				reason = err.Error()
			}
			scheduleRetry(reason)
		case <-retryC:
			timer, retryC = nil, nil
			reconcile()
		}
	}
}

func (s *Supervisor) target() Target {
	cfg := s.app.Settings.Config()
	return Target{
		ClientID: s.app.Session.ClientID(),
		Token:    s.token,
		Provider: cfg.Provider,
		Model:    cfg.Model,
	}
}
