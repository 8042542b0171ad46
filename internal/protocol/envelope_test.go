package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

func TestDecodeMessageTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame string
		kind  domain.MessageKind
		want  string
	}{
		{`{"type":"system","content":"Connected to agent"}`, domain.MessageSystem, "Connected to agent"},
		{`{"type":"agent_message","content":"Hello!"}`, domain.MessageAgent, "Hello!"},
		{`{"type":"error","content":"model unavailable"}`, domain.MessageError, "model unavailable"},
		{`{"type":"agent_message","content":{"rows":2}}`, domain.MessageAgent, `{"rows":2}`},
		{`{"type":"system"}`, domain.MessageSystem, ""},
	}

	for _, tt := range tests {
		ev, err := Decode([]byte(tt.frame))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", tt.frame, err)
		}
		if ev.Kind != EventMessage {
			t.Errorf("Decode(%s) kind = %v, want EventMessage", tt.frame, ev.Kind)
		}
		if ev.MessageKind != tt.kind {
			t.Errorf("Decode(%s) message kind = %q, want %q", tt.frame, ev.MessageKind, tt.kind)
		}
		if ev.Content != tt.want {
			t.Errorf("Decode(%s) content = %q, want %q", tt.frame, ev.Content, tt.want)
		}
	}
}

func TestDecodeTyping(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		`{"type":"typing","content":true}`:   true,
		`{"type":"typing","content":false}`:  false,
		`{"type":"typing","content":"true"}`: false,
		`{"type":"typing"}`:                  false,
	}
	for frame, want := range tests {
		ev, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", frame, err)
		}
		if ev.Kind != EventTyping || ev.Typing != want {
			t.Errorf("Decode(%s) = kind %v typing %v, want typing %v", frame, ev.Kind, ev.Typing, want)
		}
	}
}

func TestDecodeControlFrames(t *testing.T) {
	t.Parallel()

	tests := map[string]EventKind{
		`{"type":"user_echo","content":"hello"}`: EventEcho,
		`{"type":"pong"}`:                        EventPong,
		`{"type":"telemetry","content":1}`:       EventUnknown,
	}
	for frame, want := range tests {
		ev, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", frame, err)
		}
		if ev.Kind != want {
			t.Errorf("Decode(%s) kind = %v, want %v", frame, ev.Kind, want)
		}
	}
}

func TestDecodeProgress(t *testing.T) {
	t.Parallel()

	nested := `{"type":"progress","content":{"stage":"sql_executed","message":"query ok","timestamp":1700000000,"details":{"sql":"SELECT 1","row_count":3}}}`
	ev, err := Decode([]byte(nested))
	if err != nil {
		t.Fatalf("Decode nested progress failed: %v", err)
	}
	if ev.Kind != EventProgress {
		t.Fatalf("expected EventProgress, got %v", ev.Kind)
	}
	if ev.Progress.Stage != domain.StageSQLExecuted || ev.Progress.Message != "query ok" {
		t.Errorf("unexpected progress: %+v", ev.Progress)
	}
	if ev.Progress.Details.SQL() != "SELECT 1" {
		t.Errorf("expected sql detail, got %q", ev.Progress.Details.SQL())
	}
	if n, ok := ev.Progress.Details.RowCount(); !ok || n != 3 {
		t.Errorf("expected row_count 3, got %d (%v)", n, ok)
	}

	flat := `{"type":"progress","stage":"tool_execution","message":"running search","timestamp":1700000001,"details":{"tool":"search"}}`
	ev, err = Decode([]byte(flat))
	if err != nil {
		t.Fatalf("Decode flat progress failed: %v", err)
	}
	if ev.Progress.Stage != domain.StageToolExecution || ev.Progress.Details.Tool() != "search" {
		t.Errorf("unexpected flat progress: %+v", ev.Progress)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	frames := []string{
		`not json`,
		`{"content":"no type"}`,
		`[1,2,3]`,
		`{"type":"progress","content":{"stage":"dreaming","message":"?"}}`,
	}
	for _, frame := range frames {
		if _, err := Decode([]byte(frame)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformedFrame", frame, err)
		}
	}
}

func TestEncodeOutbound(t *testing.T) {
	t.Parallel()

	data, err := EncodeUserMessage("  hello\n")
	if err != nil {
		t.Fatalf("EncodeUserMessage failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal user_message: %v", err)
	}
	if got["type"] != "user_message" || got["content"] != "  hello\n" {
		t.Errorf("unexpected user_message frame: %s", data)
	}

	data, err = EncodeClearHistory()
	if err != nil {
		t.Fatalf("EncodeClearHistory failed: %v", err)
	}
	if string(data) != `{"type":"clear_history"}` {
		t.Errorf("unexpected clear_history frame: %s", data)
	}

	data, err = EncodePing()
	if err != nil {
		t.Fatalf("EncodePing failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("unexpected ping frame: %s", data)
	}
}
