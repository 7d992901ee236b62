package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/nexusmind/orchestrator/core"
)

// RedisSnapshotStore persists registry Snapshots under a namespaced key,
// mirroring the namespace-prefixed key convention the rest of this stack's
// Redis-backed stores use.
type RedisSnapshotStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// NewRedisSnapshotStore dials redisURL and returns a store scoped to
// namespace (used as a key prefix, e.g. "orchestrator").
func NewRedisSnapshotStore(redisURL, namespace string, logger core.Logger) (*RedisSnapshotStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if namespace == "" {
		namespace = "orchestrator"
	}
	return &RedisSnapshotStore{client: client, namespace: namespace, logger: logger}, nil
}

func (s *RedisSnapshotStore) snapshotKey() string {
	return fmt.Sprintf("%s:registry:snapshot", s.namespace)
}

// Save writes a Snapshot as JSON. No TTL: a registry snapshot is a durable
// catalog, not a liveness record.
func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(), data, 0).Err(); err != nil {
		s.logger.Error("failed to save registry snapshot", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// Load reads back the most recently saved Snapshot. Returns ok=false if none
// has been saved yet.
func (s *RedisSnapshotStore) Load(ctx context.Context) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.snapshotKey()).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return snap, true, nil
}

// Close releases the underlying Redis connection.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
