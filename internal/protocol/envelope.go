// Package protocol encodes and decodes the JSON envelopes exchanged with the
// agent backend over the websocket.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// ErrMalformedFrame is returned for frames that are not a JSON envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Type is the envelope discriminator.
type Type string

// Inbound types.
const (
	TypeSystem       Type = "system"
	TypeUserEcho     Type = "user_echo"
	TypeTyping       Type = "typing"
	TypeAgentMessage Type = "agent_message"
	TypeError        Type = "error"
	TypePong         Type = "pong"
	TypeProgress     Type = "progress"
)

// Outbound types.
const (
	TypeUserMessage  Type = "user_message"
	TypeClearHistory Type = "clear_history"
	TypePing         Type = "ping"
)

// Envelope is the wire shape of every frame.
type Envelope struct {
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// EventKind says what a decoded frame asks the client to do.
type EventKind int

const (
	// EventUnknown frames carry a type this client does not handle.
	EventUnknown EventKind = iota
	// EventMessage appends a chat message.
	EventMessage
	// EventEcho is the backend echoing a user message; the client already has it.
	EventEcho
	// EventTyping sets the typing indicator.
	EventTyping
	// EventProgress appends a progress event.
	EventProgress
	// EventPong acknowledges a ping.
	EventPong
)

// Event is a decoded inbound frame.
type Event struct {
	Kind        EventKind
	Type        Type
	MessageKind domain.MessageKind
	Content     string
	Typing      bool
	Progress    domain.ProgressEvent
}

var messageKinds = map[Type]domain.MessageKind{
	TypeSystem:       domain.MessageSystem,
	TypeAgentMessage: domain.MessageAgent,
	TypeError:        domain.MessageError,
}

// Decode parses one inbound frame.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	ev := Event{Type: env.Type}
	if kind, ok := messageKinds[env.Type]; ok {
		ev.Kind = EventMessage
		ev.MessageKind = kind
		ev.Content = contentText(env.Content)
		return ev, nil
	}

	switch env.Type {
	case TypeUserEcho:
		ev.Kind = EventEcho
		ev.Content = contentText(env.Content)
	case TypeTyping:
		ev.Kind = EventTyping
		ev.Typing = bytes.Equal(bytes.TrimSpace(env.Content), []byte("true"))
	case TypePong:
		ev.Kind = EventPong
	case TypeProgress:
		progress, err := decodeProgress(env.Content, data)
		if err != nil {
			return Event{}, err
		}
		ev.Kind = EventProgress
		ev.Progress = progress
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// contentText returns string content unquoted and anything else as raw JSON.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// decodeProgress accepts the event either nested in content or spread over
// the envelope itself.
func decodeProgress(content json.RawMessage, frame []byte) (domain.ProgressEvent, error) {
	src := []byte(content)
	if len(bytes.TrimSpace(src)) == 0 {
		src = frame
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(src, &ev); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("%w: progress: %v", ErrMalformedFrame, err)
	}
	if !ev.Stage.Valid() {
		return domain.ProgressEvent{}, fmt.Errorf("%w: unknown progress stage %q", ErrMalformedFrame, ev.Stage)
	}
	return ev, nil
}

type outbound struct {
	Type    Type    `json:"type"`
	Content *string `json:"content,omitempty"`
}

// EncodeUserMessage builds a user_message frame carrying content verbatim.
func EncodeUserMessage(content string) ([]byte, error) {
	return json.Marshal(outbound{Type: TypeUserMessage, Content: &content})
}

// EncodeClearHistory builds a clear_history frame.
func EncodeClearHistory() ([]byte, error) {
	return json.Marshal(outbound{Type: TypeClearHistory})
}

// EncodePing builds a keepalive ping frame.
func EncodePing() ([]byte, error) {
	return json.Marshal(outbound{Type: TypePing})
}
