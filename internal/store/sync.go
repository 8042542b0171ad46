package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/fluxion-chat/internal/state"
)

const (
	syncQueueSize    = 256
	syncWriteTimeout = 5 * time.Second
)

// Hydrate loads the persisted state under root into app without notifying
// listeners. Connection and typing always start false. A nil logger uses
// slog.Default().
func Hydrate(ctx context.Context, repo Repository, root string, app *state.App, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := repo.Load(ctx, root)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", root, err)
	}
	app.Session.Restore(snap.ClientID, snap.Messages, snap.Progress)
	if snap.LLMConfig != nil {
		app.Settings.Restore(*snap.LLMConfig)
	}
	logger.Info("Hydrated client state",
		"root", root,
		"client_id", snap.ClientID,
		"messages", len(snap.Messages),
		"progress", len(snap.Progress),
	)
	return nil
}

type syncOp struct {
	name string
	fn   func(ctx context.Context) error
}

// Syncer writes state changes through to a Repository. Changes are queued by
// the store listeners and applied by a single worker, so the persisted order
// is the mutation order.
type Syncer struct {
	repo   Repository
	root   string
	logger *slog.Logger

	ops     chan syncOp
	stopped chan struct{}
	stop    sync.Once

	mu     sync.Mutex
	unsubs []func()
}

// NewSyncer creates a syncer for root. A nil logger uses slog.Default().
func NewSyncer(repo Repository, root string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:    repo,
		root:    root,
		logger:  logger,
		ops:     make(chan syncOp, syncQueueSize),
		stopped: make(chan struct{}),
	}
}

// Attach subscribes to the session and settings stores of app. Connection and
// typing are transient and never persisted.
func (s *Syncer) Attach(app *state.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs,
		app.Session.Subscribe(s.onChange),
		app.Settings.Subscribe(s.onChange),
	)
}

// Detach removes every listener added by Attach.
func (s *Syncer) Detach() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (s *Syncer) onChange(ch state.Change) {
	root := s.root
	switch ch.Slice {
	case state.SliceClientID:
		id := ch.ClientID
		s.enqueue("save client id", func(ctx context.Context) error {
			return s.repo.SaveClientID(ctx, root, id)
		})
	case state.SliceLLMConfig:
		cfg := ch.LLMConfig
		s.enqueue("save llm config", func(ctx context.Context) error {
			return s.repo.SaveLLMConfig(ctx, root, cfg)
		})
	case state.SliceMessages:
		if ch.Cleared {
			s.enqueue("clear logs", func(ctx context.Context) error {
				return s.repo.ClearLogs(ctx, root)
			})
			return
		}
		if ch.Message != nil {
			m := *ch.Message
			s.enqueue("append message", func(ctx context.Context) error {
				return s.repo.AppendMessage(ctx, root, m)
			})
		}
	case state.SliceProgress:
		// Clearing progress is covered by the ClearLogs queued for messages.
		if ch.Progress != nil && !ch.Cleared {
			ev := *ch.Progress
			s.enqueue("append progress", func(ctx context.Context) error {
				return s.repo.AppendProgress(ctx, root, ev)
			})
		}
	}
}

// enqueue blocks while the queue is full, so a slow repository holds up the
// store mutation that produced the write.
func (s *Syncer) enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case <-s.stopped:
		s.logger.Warn("Syncer stopped, dropping write", "op", name)
		return
	default:
	}
	select {
	case <-s.stopped:
		s.logger.Warn("Syncer stopped, dropping write", "op", name)
	case s.ops <- syncOp{name: name, fn: fn}:
	}
}

// Run applies queued writes until ctx is cancelled, then drains what is
// already queued and returns.
func (s *Syncer) Run(ctx context.Context) {
	defer s.stop.Do(func() { close(s.stopped) })
	for {
		select {
		case op := <-s.ops:
			s.apply(context.Background(), op)
		case <-ctx.Done():
			s.stop.Do(func() { close(s.stopped) })
			for {
				select {
				case op := <-s.ops:
					s.apply(context.Background(), op)
				default:
					return
				}
			}
		}
	}
}

func (s *Syncer) apply(parent context.Context, op syncOp) {
	ctx, cancel := context.WithTimeout(parent, syncWriteTimeout)
	defer cancel()
	if err := op.fn(ctx); err != nil {
		s.logger.Error("Failed to persist state change", "op", op.name, "root", s.root, "error", err)
	}
}
