package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

// RedisConfig holds connection settings for the Redis repository.
type RedisConfig struct {
	URL          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// New parses the URL, applies timeouts and pings the server.
func (c RedisConfig) New() (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = c.WriteTimeout
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore implements Repository on Redis. Logs are kept in lists of JSON
// documents so append order is the persisted order.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis and returns a repository.
func NewRedis(cfg RedisConfig) (*RedisStore, error) {
	client, err := cfg.New()
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func clientIDKey(root string) string  { return root + ":client_id" }
func llmConfigKey(root string) string { return root + ":llm_config" }
func messagesKey(root string) string  { return root + ":messages" }
func progressKey(root string) string  { return root + ":progress" }

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load returns everything persisted under root.
func (s *RedisStore) Load(ctx context.Context, root string) (*Snapshot, error) {
	pipe := s.client.Pipeline()
	idCmd := pipe.Get(ctx, clientIDKey(root))
	cfgCmd := pipe.Get(ctx, llmConfigKey(root))
	msgCmd := pipe.LRange(ctx, messagesKey(root), 0, -1)
	progCmd := pipe.LRange(ctx, progressKey(root), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load %s: %w", root, err)
	}

	snap := &Snapshot{}

	id, err := idCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get client id: %w", err)
	}
	snap.ClientID = id

	rawCfg, err := cfgCmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("get llm config: %w", err)
	default:
		var cfg domain.LLMConfig
		if err := json.Unmarshal(rawCfg, &cfg); err != nil {
			return nil, fmt.Errorf("decode llm config: %w", err)
		}
		snap.LLMConfig = &cfg
	}

	for _, raw := range msgCmd.Val() {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		snap.Messages = append(snap.Messages, m)
	}
	for _, raw := range progCmd.Val() {
		var ev domain.ProgressEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode progress event: %w", err)
		}
		snap.Progress = append(snap.Progress, ev)
	}
	return snap, nil
}

// SaveClientID records the client identifier unless one is already stored.
func (s *RedisStore) SaveClientID(ctx context.Context, root, clientID string) error {
	if err := s.client.SetNX(ctx, clientIDKey(root), clientID, 0).Err(); err != nil {
		return fmt.Errorf("save client id: %w", err)
	}
	return nil
}

// SaveLLMConfig records the provider/model selection.
func (s *RedisStore) SaveLLMConfig(ctx context.Context, root string, cfg domain.LLMConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal llm config: %w", err)
	}
	if err := s.client.Set(ctx, llmConfigKey(root), data, 0).Err(); err != nil {
		return fmt.Errorf("save llm config: %w", err)
	}
	return nil
}

// AppendMessage adds a message to the persisted log.
func (s *RedisStore) AppendMessage(ctx context.Context, root string, m domain.Message) error {
	return s.push(ctx, messagesKey(root), m)
}

// AppendProgress adds a progress event to the persisted log.
func (s *RedisStore) AppendProgress(ctx context.Context, root string, ev domain.ProgressEvent) error {
	return s.push(ctx, progressKey(root), ev)
}

func (s *RedisStore) push(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", key, err)
	}
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

// ClearLogs removes all messages and progress events under root.
func (s *RedisStore) ClearLogs(ctx context.Context, root string) error {
	if err := s.client.Del(ctx, messagesKey(root), progressKey(root)).Err(); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}
