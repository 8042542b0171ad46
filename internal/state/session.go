package state

import (
	"slices"
	"sync"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// SessionSnapshot is a copy of the session state at one instant.
type SessionSnapshot struct {
	Connected bool                   `json:"connected"`
	Typing    bool                   `json:"typing"`
	ClientID  string                 `json:"client_id"`
	Messages  []domain.Message       `json:"messages"`
	Progress  []domain.ProgressEvent `json:"progress"`
}

// SessionStore holds connection status, the typing indicator, the client
// identifier and the message and progress logs.
//
// Typing is never true while disconnected, and every connection status change
// resets it.
type SessionStore struct {
	emitMu sync.Mutex // serializes mutate+notify so listeners see mutation order
	mu     sync.RWMutex

	connected bool
	typing    bool
	clientID  string
	messages  []domain.Message
	progress  []domain.ProgressEvent

	listeners listenerSet
}

// NewSessionStore returns an empty, disconnected store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Subscribe registers fn for every subsequent change and returns a function
// that removes it.
func (s *SessionStore) Subscribe(fn Listener) func() {
	return s.listeners.add(fn)
}

// SetConnected records the connection status and clears the typing indicator.
func (s *SessionStore) SetConnected(connected bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var changes []Change
	if s.connected != connected {
		s.connected = connected
		changes = append(changes, Change{Slice: SliceConnection, Connected: connected})
	}
	if s.typing {
		s.typing = false
		changes = append(changes, Change{Slice: SliceTyping, Typing: false})
	}
	s.mu.Unlock()

	s.listeners.notify(changes...)
}

// SetClientID stores the client identifier. It reports false and changes
// nothing when an identifier is already set or id is empty.
func (s *SessionStore) SetClientID(id string) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if id == "" || s.clientID != "" {
		s.mu.Unlock()
		return false
	}
	s.clientID = id
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceClientID, ClientID: id})
	return true
}

// SetTyping sets the typing indicator. Requests to show it while
// disconnected are ignored.
func (s *SessionStore) SetTyping(typing bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if typing && !s.connected {
		typing = false
	}
	if s.typing == typing {
		s.mu.Unlock()
		return
	}
	s.typing = typing
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceTyping, Typing: typing})
}

// AppendMessage adds m to the end of the message log.
func (s *SessionStore) AppendMessage(m domain.Message) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceMessages, Message: &m})
}

// AppendProgress adds ev to the end of the progress log.
func (s *SessionStore) AppendProgress(ev domain.ProgressEvent) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.progress = append(s.progress, ev)
	s.mu.Unlock()

	s.listeners.notify(Change{Slice: SliceProgress, Progress: &ev})
}

// ClearAll empties both logs and clears the typing indicator.
func (s *SessionStore) ClearAll() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.progress = nil
	wasTyping := s.typing
	s.typing = false
	s.mu.Unlock()

	changes := []Change{
		{Slice: SliceMessages, Cleared: true},
		{Slice: SliceProgress, Cleared: true},
	}
	if wasTyping {
		changes = append(changes, Change{Slice: SliceTyping, Typing: false})
	}
	s.listeners.notify(changes...)
}

// Restore loads persisted state without notifying listeners. Connection and
// typing status are not persisted and start out false.
func (s *SessionStore) Restore(clientID string, messages []domain.Message, progress []domain.ProgressEvent) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.typing = false
	s.clientID = clientID
	s.messages = slices.Clone(messages)
	s.progress = slices.Clone(progress)
}

// Reset returns the store to its initial empty state. Listeners stay
// registered and are not notified.
func (s *SessionStore) Reset() {
	s.Restore("", nil, nil)
}

// Connected reports the connection status.
func (s *SessionStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Typing reports the typing indicator.
func (s *SessionStore) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

// ClientID returns the client identifier, or "" before one is assigned.
func (s *SessionStore) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// Messages returns a copy of the message log.
func (s *SessionStore) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Progress returns a copy of the progress log.
func (s *SessionStore) Progress() []domain.ProgressEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.progress)
}

// Snapshot returns a consistent copy of the whole session state.
func (s *SessionStore) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		Connected: s.connected,
		Typing:    s.typing,
		ClientID:  s.clientID,
		Messages:  slices.Clone(s.messages),
		Progress:  slices.Clone(s.progress),
	}
}
