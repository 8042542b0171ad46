package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/fluxion-chat/internal/state"
)

const (
	defaultKeepaliveInterval = 15 * time.Second
	defaultRetryDelay        = 3 * time.Second
	subscriberBuffer         = 256
)

// sseEvent is one frame on the stream.
type sseEvent struct {
	ID   int64
	Name string
	Data []byte
}

type sseSubscriber struct {
	id     int64
	events chan sseEvent
	done   chan struct{}
	once   sync.Once
}

func (s *sseSubscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Broker turns state changes into server-sent events and fans them out to
// every connected stream.
type Broker struct {
	snapshot  func() interface{}
	keepalive time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	subs    map[int64]*sseSubscriber
	nextSub int64
	eventID int64

	unsubs []func()
}

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	// KeepaliveInterval is the spacing of ping events. Zero uses 15s.
	KeepaliveInterval time.Duration
	Logger            *slog.Logger
}

// NewBroker subscribes to app and serves snapshot as the first event of every
// stream.
func NewBroker(app *state.App, snapshot func() interface{}, opts BrokerOptions) *Broker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	b := &Broker{
		snapshot:  snapshot,
		keepalive: opts.KeepaliveInterval,
		logger:    opts.Logger,
		subs:      make(map[int64]*sseSubscriber),
	}
	b.unsubs = []func(){
		app.Session.Subscribe(b.publish),
		app.Settings.Subscribe(b.publish),
	}
	return b
}

// Close detaches from the state and ends every open stream.
func (b *Broker) Close() {
	for _, fn := range b.unsubs {
		fn()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}

// eventFor maps a state change to an event name and payload.
func eventFor(ch state.Change) (string, interface{}) {
	switch ch.Slice {
	case state.SliceConnection:
		return "connection", map[string]bool{"connected": ch.Connected}
	case state.SliceTyping:
		return "typing", map[string]bool{"typing": ch.Typing}
	case state.SliceClientID:
		return "client_id", map[string]string{"client_id": ch.ClientID}
	case state.SliceMessages:
		if ch.Cleared {
			return "cleared", map[string]string{"slice": string(ch.Slice)}
		}
		return "message", ch.Message
	case state.SliceProgress:
		if ch.Cleared {
			return "cleared", map[string]string{"slice": string(ch.Slice)}
		}
		return "progress", ch.Progress
	case state.SliceLLMConfig:
		return "llm_config", ch.LLMConfig
	}
	return "", nil
}

func (b *Broker) publish(ch state.Change) {
	name, payload := eventFor(ch)
	if name == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to marshal stream event", "event", name, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventID++
	ev := sseEvent{ID: b.eventID, Name: name, Data: data}
	for id, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			// A stream that cannot keep up is ended; the client reconnects
			// and starts again from a fresh snapshot.
			b.logger.Warn("Dropping slow stream subscriber", "subscriber", id)
			sub.close()
			delete(b.subs, id)
		}
	}
}

// subscribe registers a subscriber and captures the snapshot under the same
// lock, so no change published afterwards is missed. A change may appear both
// in the snapshot and as an event; message IDs identify repeats.
func (b *Broker) subscribe() (*sseSubscriber, sseEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(b.snapshot())
	if err != nil {
		return nil, sseEvent{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	b.nextSub++
	sub := &sseSubscriber{
		id:     b.nextSub,
		events: make(chan sseEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub, sseEvent{ID: b.eventID, Name: "snapshot", Data: data}, nil
}

func (b *Broker) unsubscribe(sub *sseSubscriber) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of open streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// HandleStream handles GET /api/stream. The first event is a snapshot of the
// whole view; one event per state change follows, plus periodic pings.
func (b *Broker) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, first, err := b.subscribe()
	if err != nil {
		b.logger.Error("Failed to open stream", "error", err)
		Error(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer b.unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", defaultRetryDelay.Milliseconds()); err != nil {
		return
	}
	if err := writeSSE(w, first); err != nil {
		b.logger.Warn("Failed to write stream snapshot", "error", err)
		return
	}
	flusher.Flush()
	b.logger.Info("Stream connected", "subscriber", sub.id, "remote", r.RemoteAddr)

	keepalive := time.NewTicker(b.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("Stream disconnected", "subscriber", sub.id)
			return
		case <-sub.done:
			return
		case ev := <-sub.events:
			if err := writeSSE(w, ev); err != nil {
				b.logger.Warn("Failed to write stream event", "error", err, "subscriber", sub.id)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, sseEvent{Name: "ping", Data: []byte(`{"status":"alive"}`)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev sseEvent) error {
	var err error
	if ev.ID > 0 {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Name, ev.Data)
	} else {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
	}
	return err
}
