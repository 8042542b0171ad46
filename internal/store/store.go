// Package store provides persistence of the client state across restarts.
package store

import (
	"context"
	"fmt"

	"github.com/ashureev/fluxion-chat/internal/config"
	"github.com/ashureev/fluxion-chat/internal/domain"
)

// Snapshot is the persisted part of the client state under one root key.
// LLMConfig is nil when no selection was ever saved.
type Snapshot struct {
	ClientID  string
	Messages  []domain.Message
	Progress  []domain.ProgressEvent
	LLMConfig *domain.LLMConfig
}

// Repository defines the interface for persisting client state. Every call
// is scoped by a root key so several clients can share one backing store.
type Repository interface {
	// Load returns everything persisted under root. A root with no data yields
	// an empty snapshot.
	Load(ctx context.Context, root string) (*Snapshot, error)

	// SaveClientID records the client identifier. An identifier that is
	// already stored is never replaced.
	SaveClientID(ctx context.Context, root, clientID string) error

	// SaveLLMConfig records the provider/model selection.
	SaveLLMConfig(ctx context.Context, root string, cfg domain.LLMConfig) error

	// AppendMessage adds a message to the end of the persisted log.
	AppendMessage(ctx context.Context, root string, m domain.Message) error

	// AppendProgress adds a progress event to the end of the persisted log.
	AppendProgress(ctx context.Context, root string, ev domain.ProgressEvent) error

	// ClearLogs removes all messages and progress events under root.
	ClearLogs(ctx context.Context, root string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// Open builds the repository selected by cfg.Driver.
func Open(cfg config.StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLite(cfg.Path)
	case config.DriverRedis:
		return NewRedis(RedisConfig{
			URL:          cfg.RedisURL,
			ReadTimeout:  cfg.RedisTimeout,
			WriteTimeout: cfg.RedisTimeout,
			DialTimeout:  cfg.RedisTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
