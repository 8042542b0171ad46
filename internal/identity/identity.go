// Package identity provides the anonymous per-install client identifier sent
// to the agent backend.
package identity

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashureev/fluxion-chat/internal/state"
)

// NewClientID returns a fresh random client identifier.
func NewClientID() string {
	return uuid.NewString()
}

// IsValidClientID reports whether id looks like an identifier produced by
// NewClientID.
func IsValidClientID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// EnsureClientID returns the session's client identifier, generating and
// storing one only when none exists yet. A persisted identifier is kept even
// if it does not look like one of ours. A nil logger uses slog.Default().
func EnsureClientID(session *state.SessionStore, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if id := session.ClientID(); id != "" {
		if !IsValidClientID(id) {
			logger.Debug("Keeping non-uuid client id", "client_id", id)
		}
		return id
	}
	id := NewClientID()
	if !session.SetClientID(id) {
		// Lost a race with another writer; theirs wins.
		return session.ClientID()
	}
	logger.Info("Generated client id", "client_id", id)
	return id
}
