package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/llm"
)

// Store persists and restores a Context, used by Snapshot and by
// GetOrCreate when a session isn't held in memory (e.g. after a process
// restart). A Manager without a Store runs purely in-memory.
type Store interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, sessionID string) (*Context, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config controls the Manager's sharding and eviction tunables.
type Config struct {
	ShardCount    int
	MaxIdleAge    time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the documented session defaults: a 30 minute idle
// TTL swept every 15 minutes.
func DefaultConfig() Config {
	return Config{
		ShardCount:    16,
		MaxIdleAge:    30 * time.Minute,
		SweepInterval: 15 * time.Minute,
	}
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Context
}

// Manager owns the active-session map, sharded by a hash of the session id
// so concurrent sessions don't contend on a single lock, and runs a
// background sweep that evicts sessions idle past MaxIdleAge.
type Manager struct {
	shards []*shard
	config Config
	store  Store
	logger core.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Manager. store may be nil for a purely in-memory
// deployment; logger may be nil.
func New(store Store, config Config, logger core.Logger) *Manager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if config.ShardCount <= 0 {
		config.ShardCount = DefaultConfig().ShardCount
	}
	m := &Manager{
		shards:   make([]*shard, config.ShardCount),
		config:   config,
		store:    store,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{sessions: make(map[string]*Context)}
	}
	return m
}

func (m *Manager) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return m.shards[int(h.Sum32())%len(m.shards)]
}

// GetOrCreate returns the existing in-memory session, or one restored from
// the Store, or a freshly created one for sessionID. Pass an empty
// sessionID to always create a new session with a generated id.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID string) (*Context, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	sh := m.shardFor(sessionID)

	sh.mu.RLock()
	if c, ok := sh.sessions[sessionID]; ok {
		cp := c.copy()
		sh.mu.RUnlock()
		return cp, nil
	}
	sh.mu.RUnlock()

	if m.store != nil {
		if restored, ok, err := m.store.Load(ctx, sessionID); err == nil && ok {
			sh.mu.Lock()
			sh.sessions[sessionID] = restored
			sh.mu.Unlock()
			return restored.copy(), nil
		} else if err != nil {
			m.logger.Warn("session store load failed, creating fresh session", map[string]interface{}{
				"session_id": sessionID, "error": err.Error(),
			})
		}
	}

	now := time.Now()
	c := &Context{
		ID: sessionID, UserID: userID, Scratch: make(map[string]interface{}),
		CreatedAt: now, LastUpdated: now,
	}
	sh.mu.Lock()
	sh.sessions[sessionID] = c
	sh.mu.Unlock()
	return c.copy(), nil
}

// AppendTurn records one message in sessionID's history, enforcing the
// user/assistant alternation invariant.
func (m *Manager) AppendTurn(sessionID, role, content string) error {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	if err := c.appendTurn(role, content); err != nil {
		return err
	}
	c.LastUpdated = time.Now()
	return nil
}

// SetIntent records the most recently extracted intent and entities for
// sessionID so a later query in the same conversation can reference them.
func (m *Manager) SetIntent(sessionID string, intent llm.Intent, entities []llm.Entity) error {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	c.Intent = intent
	c.Entities = entities
	c.LastUpdated = time.Now()
	return nil
}

// UpdateExecution records the summary of the last plan run for sessionID.
func (m *Manager) UpdateExecution(sessionID string, summary *ExecutionSummary) error {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	c.LastExecution = summary
	c.LastUpdated = time.Now()
	return nil
}

// PutScratch merges key/value pairs into sessionID's scratch map, available
// to the planner on the session's next query.
func (m *Manager) PutScratch(sessionID string, values map[string]interface{}) error {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	if c.Scratch == nil {
		c.Scratch = make(map[string]interface{}, len(values))
	}
	for k, v := range values {
		c.Scratch[k] = v
	}
	c.LastUpdated = time.Now()
	return nil
}

// ClearMessages drops sessionID's turn history and last execution summary.
// It deliberately leaves tool usage statistics untouched — those live in
// the registry, keyed by tool id, not by session, and clearing a
// conversation's messages says nothing about whether its tools performed
// well.
func (m *Manager) ClearMessages(sessionID string) error {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	c.clearMessages()
	c.LastUpdated = time.Now()
	return nil
}

// Snapshot persists sessionID to the Store in a detached goroutine; the
// caller is not blocked on storage latency and a failure is only logged.
// A Manager with no Store configured is a no-op.
func (m *Manager) Snapshot(sessionID string) {
	if m.store == nil {
		return
	}
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	c, ok := sh.sessions[sessionID]
	if !ok {
		sh.mu.RUnlock()
		return
	}
	cp := c.copy()
	sh.mu.RUnlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.store.Save(ctx, cp); err != nil {
			m.logger.Warn("session snapshot failed", map[string]interface{}{
				"session_id": sessionID, "error": err.Error(),
			})
		}
	}()
}

// Get returns a copy of sessionID's in-memory state without creating it,
// useful for read-only introspection (e.g. the transport layer rendering
// history).
func (m *Manager) Get(sessionID string) (*Context, bool) {
	sh := m.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return c.copy(), true
}

// StartSweeper launches the background eviction loop. Call Stop to end it.
func (m *Manager) StartSweeper() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Sweep evicts sessions idle longer than MaxIdleAge from every shard and
// returns how many it evicted. It does not write them to the Store; what a
// Store holds for an evicted session is whatever its last Snapshot saved.
func (m *Manager) Sweep() int {
	now := time.Now()
	evicted := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, c := range sh.sessions {
			if now.Sub(c.LastUpdated) <= m.config.MaxIdleAge {
				continue
			}
			delete(sh.sessions, id)
			evicted++
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		m.logger.Debug("swept idle sessions", map[string]interface{}{"evicted": evicted})
	}
	return evicted
}

// Stop ends the sweeper goroutine and waits for in-flight snapshots.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}
