package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]*Context
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*Context)}
}

func (m *memStore) Save(ctx context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c.copy()
	m.data[c.ID] = cp
	return nil
}

func (m *memStore) Load(ctx context.Context, sessionID string) (*Context, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[sessionID]
	if !ok {
		return nil, false, nil
	}
	return c.copy(), true, nil
}

func (m *memStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

func TestGetOrCreateCreatesNewSession(t *testing.T) {
	mgr := New(nil, DefaultConfig(), nil)
	c, err := mgr.GetOrCreate(context.Background(), "", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "user-1", c.UserID)
}

func TestGetOrCreateReturnsExistingSession(t *testing.T) {
	mgr := New(nil, DefaultConfig(), nil)
	first, err := mgr.GetOrCreate(context.Background(), "s1", "user-1")
	require.NoError(t, err)

	require.NoError(t, mgr.AppendTurn(first.ID, "user", "hello"))

	again, err := mgr.GetOrCreate(context.Background(), "s1", "user-1")
	require.NoError(t, err)
	require.Len(t, again.Turns, 1)
	assert.Equal(t, "hello", again.Turns[0].Content)
}

func TestAppendTurnRejectsConsecutiveSameRole(t *testing.T) {
	mgr := New(nil, DefaultConfig(), nil)
	c, err := mgr.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)

	require.NoError(t, mgr.AppendTurn(c.ID, "user", "hi"))
	err = mgr.AppendTurn(c.ID, "user", "hi again")
	require.Error(t, err)
	var alternationErr *TurnAlternationError
	assert.ErrorAs(t, err, &alternationErr)

	require.NoError(t, mgr.AppendTurn(c.ID, "assistant", "hello"))
}

func TestClearMessagesPreservesScratch(t *testing.T) {
	mgr := New(nil, DefaultConfig(), nil)
	c, err := mgr.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)

	require.NoError(t, mgr.AppendTurn(c.ID, "user", "hi"))
	require.NoError(t, mgr.PutScratch(c.ID, map[string]interface{}{"last_url": "example.com"}))

	require.NoError(t, mgr.ClearMessages(c.ID))

	after, ok := mgr.Get(c.ID)
	require.True(t, ok)
	assert.Empty(t, after.Turns)
	assert.Equal(t, "example.com", after.Scratch["last_url"])
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIdleAge = 10 * time.Millisecond
	mgr := New(nil, cfg, nil)

	c, err := mgr.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	evicted := mgr.Sweep()
	assert.Equal(t, 1, evicted)

	_, ok := mgr.Get(c.ID)
	assert.False(t, ok)
}

func TestSnapshotPersistsToStore(t *testing.T) {
	store := newMemStore()
	mgr := New(store, DefaultConfig(), nil)

	c, err := mgr.GetOrCreate(context.Background(), "s1", "user-1")
	require.NoError(t, err)
	require.NoError(t, mgr.AppendTurn(c.ID, "user", "hi"))

	mgr.Snapshot(c.ID)
	mgr.Stop()

	saved, ok, err := store.Load(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, saved.Turns, 1)
}

func TestGetOrCreateRestoresFromStore(t *testing.T) {
	store := newMemStore()
	mgr := New(store, DefaultConfig(), nil)

	c, err := mgr.GetOrCreate(context.Background(), "s1", "user-1")
	require.NoError(t, err)
	require.NoError(t, mgr.AppendTurn(c.ID, "user", "hi"))
	mgr.Snapshot(c.ID)
	mgr.Stop()

	fresh := New(store, DefaultConfig(), nil)
	restored, err := fresh.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)
	require.Len(t, restored.Turns, 1)
}
