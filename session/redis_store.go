package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nexusmind/orchestrator/core"
)

// RedisStore persists Context snapshots as JSON blobs, namespaced the same
// way the registry's RedisSnapshotStore is. Unlike that store, every key is
// written with the configured TTL and expires after it.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// NewRedisStore dials redisURL and verifies connectivity before returning.
func NewRedisStore(redisURL, namespace string, ttl time.Duration, logger core.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisStore{client: client, namespace: namespace, ttl: ttl, logger: logger}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.namespace, sessionID)
}

// Save writes c as a JSON blob with the store's configured TTL.
func (s *RedisStore) Save(ctx context.Context, c *Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key(c.ID), data, s.ttl).Err()
}

// Load reads and unmarshals sessionID's snapshot, returning ok=false if
// absent rather than an error.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Context, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}

	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return &c, true, nil
}

// Delete removes sessionID's snapshot, if any.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
