package store

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/state"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSyncer_WritesThroughAndHydrates(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())

	app := state.NewApp()
	syncer := NewSyncer(repo, "root", nil)
	syncer.Attach(app)
	done := make(chan struct{})
	go func() {
		syncer.Run(ctx)
		close(done)
	}()

	app.Session.SetClientID("client-1")
	app.Session.SetConnected(true)
	app.Session.AppendMessage(domain.NewMessage(domain.MessageUser, "hello"))
	app.Session.AppendMessage(domain.NewMessage(domain.MessageAgent, "hi there"))
	app.Session.AppendProgress(domain.ProgressEvent{Stage: domain.StageProcessing, Message: "thinking", Timestamp: 1})
	app.Settings.SetProvider(domain.ProviderChatGPT)

	waitFor(t, 2*time.Second, func() bool {
		snap, err := repo.Load(context.Background(), "root")
		return err == nil && len(snap.Messages) == 2 && len(snap.Progress) == 1 && snap.LLMConfig != nil
	})

	cancel()
	<-done
	syncer.Detach()

	restored := state.NewApp()
	if err := Hydrate(context.Background(), repo, "root", restored, nil); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	snap := restored.Session.Snapshot()
	if snap.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want client-1", snap.ClientID)
	}
	if snap.Connected || snap.Typing {
		t.Errorf("hydrated session should be disconnected, got %+v", snap)
	}
	if len(snap.Messages) != 2 || snap.Messages[0].Content != "hello" || snap.Messages[1].Content != "hi there" {
		t.Errorf("Messages = %+v", snap.Messages)
	}
	want := domain.LLMConfig{Provider: domain.ProviderChatGPT, Model: "gpt-4o-mini"}
	if got := restored.Settings.Config(); got != want {
		t.Errorf("Config() = %+v, want %+v", got, want)
	}
}

func TestSyncer_ClearRemovesPersistedLogs(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := state.NewApp()
	syncer := NewSyncer(repo, "root", nil)
	syncer.Attach(app)
	defer syncer.Detach()
	go syncer.Run(ctx)

	app.Session.AppendMessage(domain.NewMessage(domain.MessageUser, "one"))
	app.Session.AppendProgress(domain.ProgressEvent{Stage: domain.StageCompleted, Message: "done", Timestamp: 2})
	app.Session.ClearAll()
	app.Session.AppendMessage(domain.NewMessage(domain.MessageUser, "two"))

	waitFor(t, 2*time.Second, func() bool {
		snap, err := repo.Load(context.Background(), "root")
		return err == nil && len(snap.Messages) == 1 && snap.Messages[0].Content == "two" && len(snap.Progress) == 0
	})
}

func TestSyncer_DropsWritesAfterStop(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	app := state.NewApp()
	syncer := NewSyncer(repo, "root", nil)
	syncer.Attach(app)
	syncer.Run(ctx)

	for i := 0; i < syncQueueSize+10; i++ {
		app.Session.AppendMessage(domain.NewMessage(domain.MessageUser, "late"))
	}
	if got := len(app.Session.Messages()); got != syncQueueSize+10 {
		t.Fatalf("in-memory log has %d messages", got)
	}
}

// gatedRepo blocks AppendMessage until release is closed.
type gatedRepo struct {
	Repository
	release chan struct{}

	mu       sync.Mutex
	appended int
}

func (r *gatedRepo) AppendMessage(ctx context.Context, _ string, _ domain.Message) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	r.appended++
	r.mu.Unlock()
	return nil
}

func (r *gatedRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appended
}

func TestSyncer_FullQueueBlocksInsteadOfDropping(t *testing.T) {
	t.Parallel()
	repo := &gatedRepo{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := state.NewApp()
	syncer := NewSyncer(repo, "root", nil)
	syncer.Attach(app)
	defer syncer.Detach()
	go syncer.Run(ctx)

	total := syncQueueSize + 20
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			app.Session.AppendMessage(domain.NewMessage(domain.MessageAgent, "reply"))
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("appends finished while the repository was stalled")
	case <-time.After(200 * time.Millisecond):
	}

	close(repo.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appends still blocked after the repository recovered")
	}
	waitFor(t, 2*time.Second, func() bool { return repo.count() == total })
}

func TestHydrate_LogsToGivenLogger(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	if err := repo.SaveClientID(context.Background(), "root", "client-9"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	if err := Hydrate(context.Background(), repo, "root", state.NewApp(), logger); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "Hydrated client state") || !strings.Contains(out, "client-9") {
		t.Fatalf("log output = %q", out)
	}
}
