// Package domain contains core domain types for the fluxion chat client.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind identifies who produced a chat message.
type MessageKind string

const (
	// MessageUser is a message typed by the local user.
	MessageUser MessageKind = "user"
	// MessageAgent is a reply from the backend agent.
	MessageAgent MessageKind = "agent"
	// MessageSystem is an informational notice from the backend.
	MessageSystem MessageKind = "system"
	// MessageError is an error surfaced verbatim from the backend.
	MessageError MessageKind = "error"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageUser, MessageAgent, MessageSystem, MessageError:
		return true
	}
	return false
}

// Message is a single entry in the chat log. Messages are never mutated after
// creation; the log is only appended to or cleared.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage stamps a message with a fresh ID and the current time.
func NewMessage(kind MessageKind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}
