package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/fluxion-chat/internal/state"
)

// fakeBackend is an agent backend that records every accepted connection.
type fakeBackend struct {
	srv *httptest.Server

	// hold, when non-nil, blocks the upgrade until closed.
	hold chan struct{}

	mu    sync.Mutex
	conns []*backendConn
}

type backendConn struct {
	conn   *websocket.Conn
	path   string
	query  url.Values
	frames chan []byte
	closed chan struct{}

	mu          sync.Mutex
	closeStatus websocket.StatusCode
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(func() {
		b.mu.Lock()
		if b.hold != nil {
			select {
			case <-b.hold:
			default:
				close(b.hold)
			}
		}
		for _, c := range b.conns {
			_ = c.conn.CloseNow()
		}
		b.mu.Unlock()
		b.srv.Close()
	})
	return b
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hold := b.hold
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	bc := &backendConn{
		conn:        conn,
		path:        r.URL.Path,
		query:       r.URL.Query(),
		frames:      make(chan []byte, 64),
		closed:      make(chan struct{}),
		closeStatus: -1,
	}
	b.mu.Lock()
	b.conns = append(b.conns, bc)
	b.mu.Unlock()

	defer close(bc.closed)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			bc.mu.Lock()
			bc.closeStatus = websocket.CloseStatus(err)
			bc.mu.Unlock()
			return
		}
		select {
		case bc.frames <- data:
		default:
		}
	}
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *fakeBackend) conn(t *testing.T, i int) *backendConn {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return b.count() > i })
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[i]
}

func (c *backendConn) send(t *testing.T, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("backend write %q: %v", frame, err)
	}
}

func (c *backendConn) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-c.frames:
		return string(f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return ""
	}
}

func (c *backendConn) status() websocket.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeStatus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// connectionLog records connection status changes in order.
type connectionLog struct {
	mu      sync.Mutex
	changes []bool
}

func watchConnection(s *state.SessionStore) *connectionLog {
	l := &connectionLog{}
	s.Subscribe(func(ch state.Change) {
		if ch.Slice == state.SliceConnection {
			l.mu.Lock()
			l.changes = append(l.changes, ch.Connected)
			l.mu.Unlock()
		}
	})
	return l
}

func (l *connectionLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.changes...)
}
