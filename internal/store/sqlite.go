package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/fluxion-chat/internal/domain"
	"github.com/ashureev/fluxion-chat/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN run on every new connection, not only the first.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer keeps appends in log order.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS client_state (
		root_key TEXT PRIMARY KEY,
		client_id TEXT,
		llm_provider TEXT,
		llm_model TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		root_key TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_root ON messages(root_key, seq);

	CREATE TABLE IF NOT EXISTS progress_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		root_key TEXT NOT NULL,
		stage TEXT NOT NULL,
		message TEXT NOT NULL,
		ts INTEGER NOT NULL,
		details_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_progress_root ON progress_events(root_key, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load returns everything persisted under root.
func (s *SQLiteStore) Load(ctx context.Context, root string) (*Snapshot, error) {
	snap := &Snapshot{}

	var clientID, provider, model sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, llm_provider, llm_model FROM client_state WHERE root_key = ?`, root,
	).Scan(&clientID, &provider, &model)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("scan client state: %w", err)
	default:
		snap.ClientID = clientID.String
		if provider.Valid {
			snap.LLMConfig = &domain.LLMConfig{
				Provider: domain.Provider(provider.String),
				Model:    model.String,
			}
		}
	}

	if snap.Messages, err = s.loadMessages(ctx, root); err != nil {
		return nil, err
	}
	if snap.Progress, err = s.loadProgress(ctx, root); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, root string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, created_at_ms FROM messages WHERE root_key = ? ORDER BY seq`, root)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var kind string
		var createdAt int64
		if err := rows.Scan(&m.ID, &kind, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.Timestamp = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) loadProgress(ctx context.Context, root string) ([]domain.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, message, ts, details_json FROM progress_events WHERE root_key = ? ORDER BY seq`, root)
	if err != nil {
		return nil, fmt.Errorf("query progress events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close progress rows", "error", closeErr)
		}
	}()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var stage string
		var details sql.NullString
		if err := rows.Scan(&stage, &ev.Message, &ev.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		ev.Stage = domain.ProgressStage(stage)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				slog.Warn("Dropping unreadable progress details", "error", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress events: %w", err)
	}
	return events, nil
}

// SaveClientID records the client identifier unless one is already stored.
func (s *SQLiteStore) SaveClientID(ctx context.Context, root, clientID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO client_state (root_key, client_id, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(root_key) DO UPDATE SET
		client_id = COALESCE(client_state.client_id, excluded.client_id),
		updated_at = excluded.updated_at`
	return s.exec(ctx, "save client id", query, root, clientID, now, now)
}

// SaveLLMConfig records the provider/model selection.
func (s *SQLiteStore) SaveLLMConfig(ctx context.Context, root string, cfg domain.LLMConfig) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO client_state (root_key, llm_provider, llm_model, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(root_key) DO UPDATE SET
		llm_provider = excluded.llm_provider,
		llm_model = excluded.llm_model,
		updated_at = excluded.updated_at`
	return s.exec(ctx, "save llm config", query, root, string(cfg.Provider), cfg.Model, now, now)
}

// AppendMessage adds a message to the persisted log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, root string, m domain.Message) error {
	query := `INSERT INTO messages (root_key, id, kind, content, created_at_ms) VALUES (?, ?, ?, ?, ?)`
	return s.exec(ctx, "append message", query, root, m.ID, string(m.Kind), m.Content, m.Timestamp.UnixMilli())
}

// AppendProgress adds a progress event to the persisted log.
func (s *SQLiteStore) AppendProgress(ctx context.Context, root string, ev domain.ProgressEvent) error {
	var details interface{}
	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal progress details: %w", err)
		}
		details = string(data)
	}
	query := `INSERT INTO progress_events (root_key, stage, message, ts, details_json) VALUES (?, ?, ?, ?, ?)`
	return s.exec(ctx, "append progress", query, root, string(ev.Stage), ev.Message, ev.Timestamp, details)
}

// ClearLogs removes all messages and progress events under root.
func (s *SQLiteStore) ClearLogs(ctx context.Context, root string) error {
	return withRetry(ctx, "clear logs", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE root_key = ?`, root); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress_events WHERE root_key = ?`, root); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete progress events: %w", err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	return withRetry(ctx, op, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// withRetry runs fn, retrying SQLite contention errors with exponential
// backoff: 50ms, 100ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
