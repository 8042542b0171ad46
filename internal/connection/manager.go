// Package connection owns the single live websocket to the agent backend and
// translates its frames into session state changes.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/protocol"
	"github.com/ashureev/fluxion-chat/internal/state"
)

var (
	// ErrNotConnected is returned when an outbound frame is requested while no
	// connection is open.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned by Send for blank content.
	ErrEmptyMessage = errors.New("empty message")
)

// Status is the connection state machine's current state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Target is the identity tuple a connection is opened for.
type Target struct {
	ClientID string
	Token    string
	Provider domain.Provider
	Model    string
}

// Complete reports whether the tuple carries enough to dial.
func (t Target) Complete() bool {
	return t.ClientID != "" && t.Token != ""
}

// Options configures a Manager.
type Options struct {
	// BaseURL is the backend's http(s) or ws(s) origin.
	BaseURL string
	// KeepaliveInterval is how often a ping frame is written. Zero disables pings.
	KeepaliveInterval time.Duration
	// KeepaliveTimeout drops the connection when no frame arrives for this
	// long. Zero disables the check.
	KeepaliveTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	// ReadLimit caps the size of one inbound frame in bytes. Zero uses 16 MiB
	// and -1 removes the cap.
	ReadLimit  int64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 16 << 20
)

// Manager keeps at most one live connection and mirrors its lifecycle and
// inbound frames into a SessionStore.
type Manager struct {
	session *state.SessionStore
	opts    Options
	logger  *slog.Logger

	opMu sync.Mutex // serializes EnsureConnected and Close

	mu     sync.Mutex
	status Status
	target Target
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64

	lastSeen atomic.Int64
	drops    chan error
}

// NewManager creates an idle manager that reports into session.
func NewManager(session *state.SessionStore, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadLimit == 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Manager{
		session: session,
		opts:    opts,
		logger:  opts.Logger,
		status:  StatusIdle,
		drops:   make(chan error, 1),
	}
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Target returns the tuple of the current or last connection.
func (m *Manager) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Drops delivers the cause of connections that closed without being asked
// to. At most one undelivered drop is kept.
func (m *Manager) Drops() <-chan error {
	return m.drops
}

// EnsureConnected makes the live connection match t. It is a no-op when a
// connection for t is already open. A connection for a different tuple is
// fully torn down before the new dial. With an incomplete tuple nothing is
// dialed and the session is marked disconnected.
func (m *Manager) EnsureConnected(ctx context.Context, t Target) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !t.Complete() {
		m.teardown("identity incomplete")
		m.mu.Lock()
		m.target = t
		m.mu.Unlock()
		m.session.SetConnected(false)
		m.logger.Debug("Skipping connect, identity incomplete",
			"has_client_id", t.ClientID != "", "has_token", t.Token != "")
		return nil
	}

	m.mu.Lock()
	same := m.status == StatusOpen && m.target == t
	m.mu.Unlock()
	if same {
		return nil
	}

	m.teardown("configuration changed")
	return m.open(ctx, t)
}

// Close tears down the connection, cancelling a dial in progress. It is safe
// to call in any state and more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.status == StatusConnecting && m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardown("client closed")
}

func (m *Manager) open(ctx context.Context, t Target) error {
	rawURL, err := protocol.BuildURL(m.opts.BaseURL, protocol.Handshake{
		ClientID: t.ClientID,
		Token:    t.Token,
		Provider: t.Provider,
		Model:    t.Model,
	})
	if err != nil {
		m.setStatus(StatusClosed)
		m.session.SetConnected(false)
		return fmt.Errorf("build handshake url: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.target = t
	m.cancel = cancel
	m.done = nil
	m.mu.Unlock()

	endpoint := redact(rawURL)
	m.logger.Info("Connecting to agent backend", "endpoint", endpoint,
		"provider", t.Provider, "model", t.Model)

	dialCtx, dialCancel := context.WithTimeout(connCtx, m.opts.DialTimeout)
	stop := context.AfterFunc(ctx, cancel)
	conn, _, err := websocket.Dial(dialCtx, rawURL, &websocket.DialOptions{
		HTTPClient: m.opts.HTTPClient,
	})
	dialCancel()
	if !stop() && err == nil {
		// The caller gave up after the handshake completed.
		_ = conn.CloseNow()
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		m.mu.Lock()
		if m.gen == gen {
			m.status = StatusClosed
			m.cancel = nil
		}
		m.mu.Unlock()
		m.session.SetConnected(false)
		m.logger.Warn("Failed to connect to agent backend", "endpoint", endpoint, "error", err)
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(m.opts.ReadLimit)

	done := make(chan struct{})
	m.mu.Lock()
	m.status = StatusOpen
	m.conn = conn
	m.done = done
	m.mu.Unlock()
	m.lastSeen.Store(time.Now().UnixNano())

	m.logger.Info("Connected to agent backend", "endpoint", endpoint)
	m.session.SetConnected(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		m.readLoop(connCtx, conn, gen)
	}()
	if m.opts.KeepaliveInterval > 0 || m.opts.KeepaliveTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.keepalive(connCtx, conn)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

// teardown closes the current connection and waits for its goroutines to
// exit. A close frame is only sent from the open state. Callers hold opMu.
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	status, conn, cancel, done := m.status, m.conn, m.cancel, m.done
	if status == StatusOpen {
		m.status = StatusClosing
	}
	m.mu.Unlock()

	if status == StatusOpen && conn != nil {
		m.logger.Info("Closing agent connection", "reason", reason)
		if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
			m.logger.Debug("Close handshake did not complete", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	if m.status == StatusClosing || m.status == StatusConnecting {
		m.status = StatusClosed
	}
	m.conn = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.lastSeen.Store(time.Now().UnixNano())
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		m.logger.Warn("Dropping malformed frame", "error", err, "size", len(data))
		return
	}

	switch ev.Kind {
	case protocol.EventMessage:
		m.session.AppendMessage(domain.NewMessage(ev.MessageKind, ev.Content))
	case protocol.EventTyping:
		m.session.SetTyping(ev.Typing)
	case protocol.EventProgress:
		m.session.AppendProgress(ev.Progress)
	case protocol.EventEcho:
		// The local echo was appended by Send.
	case protocol.EventPong:
		m.logger.Debug("Received pong")
	default:
		m.logger.Debug("Ignoring unknown frame type", "type", ev.Type)
	}
}

func (m *Manager) handleClosed(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	expected := m.status == StatusClosing
	m.status = StatusClosed
	m.conn = nil
	m.mu.Unlock()

	m.session.SetConnected(false)
	if expected {
		m.logger.Debug("Agent connection closed")
		return
	}

	if websocket.CloseStatus(cause) != -1 {
		m.logger.Info("Agent connection closed by backend", "status", websocket.CloseStatus(cause))
	} else {
		m.logger.Warn("Agent connection lost", "error", cause)
	}
	select {
	case m.drops <- cause:
	default:
	}
}

// Send appends a local user message and then writes it to the backend.
func (m *Manager) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	conn, ok := m.openConn()
	if !ok {
		m.logger.Warn("Cannot send message, not connected")
		return ErrNotConnected
	}

	data, err := protocol.EncodeUserMessage(content)
	if err != nil {
		return fmt.Errorf("encode user message: %w", err)
	}
	m.session.AppendMessage(domain.NewMessage(domain.MessageUser, content))
	return m.write(ctx, conn, data, "user message")
}

// RequestClearHistory asks the backend to drop its copy of the conversation.
// Clearing local state is up to the caller.
func (m *Manager) RequestClearHistory(ctx context.Context) error {
	conn, ok := m.openConn()
	if !ok {
		m.logger.Warn("Cannot request history clear, not connected")
		return ErrNotConnected
	}
	data, err := protocol.EncodeClearHistory()
	if err != nil {
		return fmt.Errorf("encode clear history: %w", err)
	}
	return m.write(ctx, conn, data, "clear history")
}

func (m *Manager) openConn() (*websocket.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusOpen || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

// write detaches from ctx cancellation since a cancelled write closes the
// whole connection.
func (m *Manager) write(ctx context.Context, conn *websocket.Conn, data []byte, what string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// redact drops the query string, which carries the token.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
