package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fluxion-chat/internal/chat"
	"github.com/ashureev/fluxion-chat/internal/connection"
	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/state"
)

type fakeConn struct {
	app *state.App

	mu        sync.Mutex
	connected bool
	sent      []string
	clears    int
}

func (f *fakeConn) Send(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return connection.ErrNotConnected
	}
	f.app.Session.AppendMessage(domain.NewMessage(domain.MessageUser, content))
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeConn) RequestClearHistory(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return connection.ErrNotConnected
	}
	f.clears++
	return nil
}

func (f *fakeConn) Status() connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return connection.StatusOpen
	}
	return connection.StatusIdle
}

type testAPI struct {
	app     *state.App
	conn    *fakeConn
	broker  *Broker
	router  chi.Router
	limiter *RateLimiter
}

func newTestAPI(t *testing.T, connected bool, sendLimit int) *testAPI {
	t.Helper()
	app := state.NewApp()
	conn := &fakeConn{app: app, connected: connected}
	svc := chat.NewService(app, conn, nil)
	broker := NewBroker(app, func() interface{} { return svc.View() }, BrokerOptions{KeepaliveInterval: time.Hour})
	limiter := NewRateLimiter(sendLimit, time.Minute)
	t.Cleanup(func() {
		broker.Close()
		limiter.Stop()
	})

	r := chi.NewRouter()
	NewHandler(svc, broker, limiter).RegisterRoutes(r)
	return &testAPI{app: app, conn: conn, broker: broker, router: r, limiter: limiter}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		connected  bool
		body       string
		wantStatus int
		wantSent   int
	}{
		{"sent", true, `{"content":"  hello "}`, http.StatusAccepted, 1},
		{"blank", true, `{"content":"   "}`, http.StatusBadRequest, 0},
		{"bad json", true, `{"content":`, http.StatusBadRequest, 0},
		{"unknown field", true, `{"text":"hi"}`, http.StatusBadRequest, 0},
		{"disconnected", false, `{"content":"hello"}`, http.StatusConflict, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAPI(t, tt.connected, 10)

			w := a.do(http.MethodPost, "/api/messages", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := len(a.conn.sent); got != tt.wantSent {
				t.Fatalf("sent %d messages, want %d", got, tt.wantSent)
			}
			if tt.wantSent == 1 && a.conn.sent[0] != "hello" {
				t.Fatalf("sent %q, want trimmed content", a.conn.sent[0])
			}
			if tt.wantSent == 0 && len(a.app.Session.Messages()) != 0 {
				t.Fatal("rejected send changed the message log")
			}
		})
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, true, 2)

	for i := 0; i < 2; i++ {
		if w := a.do(http.MethodPost, "/api/messages", `{"content":"hi"}`); w.Code != http.StatusAccepted {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if w := a.do(http.MethodPost, "/api/messages", `{"content":"hi"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}

func TestClearHistory(t *testing.T) {
	t.Parallel()

	for _, connected := range []bool{true, false} {
		a := newTestAPI(t, connected, 10)
		a.app.Session.AppendMessage(domain.NewMessage(domain.MessageAgent, "old"))

		w := a.do(http.MethodDelete, "/api/messages", "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("connected=%v: status = %d, want 204", connected, w.Code)
		}
		if len(a.app.Session.Messages()) != 0 {
			t.Fatalf("connected=%v: messages not cleared", connected)
		}
	}
}

func TestListMessagesAndProgress(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, true, 10)

	w := a.do(http.MethodGet, "/api/messages", "")
	if !strings.Contains(w.Body.String(), `"messages":[]`) {
		t.Fatalf("empty log body = %s", w.Body.String())
	}

	a.app.Session.AppendMessage(domain.NewMessage(domain.MessageSystem, "welcome"))
	a.app.Session.AppendProgress(domain.ProgressEvent{Stage: domain.StageAnalyzing, Message: "thinking", Timestamp: 5})

	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(a.do(http.MethodGet, "/api/messages", "").Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Kind != domain.MessageSystem {
		t.Fatalf("messages = %+v", msgs.Messages)
	}

	var prog struct {
		Progress []domain.ProgressEvent `json:"progress"`
	}
	if err := json.NewDecoder(a.do(http.MethodGet, "/api/progress", "").Body).Decode(&prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if len(prog.Progress) != 1 || prog.Progress[0].Stage != domain.StageAnalyzing {
		t.Fatalf("progress = %+v", prog.Progress)
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       domain.LLMConfig
	}{
		{"switch provider", `{"provider":"chatgpt"}`, http.StatusOK, domain.LLMConfig{Provider: domain.ProviderChatGPT, Model: "gpt-4o-mini"}},
		{"provider and model", `{"provider":"chatgpt","model":"gpt-4"}`, http.StatusOK, domain.LLMConfig{Provider: domain.ProviderChatGPT, Model: "gpt-4"}},
		{"unknown provider", `{"provider":"bard"}`, http.StatusBadRequest, domain.DefaultLLMConfig()},
		{"foreign model", `{"model":"gpt-4"}`, http.StatusBadRequest, domain.DefaultLLMConfig()},
		{"empty", `{}`, http.StatusOK, domain.DefaultLLMConfig()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAPI(t, true, 10)

			w := a.do(http.MethodPut, "/api/settings/llm", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := a.app.Settings.Config(); got != tt.want {
				t.Fatalf("config = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestListProviders(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, true, 10)

	var body struct {
		Providers []providerInfo `json:"providers"`
	}
	if err := json.NewDecoder(a.do(http.MethodGet, "/api/providers", "").Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Providers) != 2 {
		t.Fatalf("providers = %+v", body.Providers)
	}
	gpt := body.Providers[1]
	if gpt.ID != domain.ProviderChatGPT || gpt.BackendID != "openai" || gpt.DefaultModel != "gpt-4o-mini" || len(gpt.Models) != 4 {
		t.Fatalf("chatgpt entry = %+v", gpt)
	}
}

func TestGetState(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, true, 10)
	a.app.Session.SetClientID("client-1")
	a.app.Session.SetConnected(true)

	var view chat.View
	if err := json.NewDecoder(a.do(http.MethodGet, "/api/state", "").Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ClientID != "client-1" || !view.Connected || view.Status != connection.StatusOpen {
		t.Fatalf("view = %+v", view)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"healthy", nil, http.StatusOK},
		{"store down", errors.New("disk gone"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			NewHealthHandler(fakePinger{err: tt.pingErr}, &fakeConn{}).RegisterHealth(r)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), `"agent":"idle"`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}
