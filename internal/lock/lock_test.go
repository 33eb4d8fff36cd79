package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCollection(t *testing.T, keys ...string) *store.Collection {
	t.Helper()
	c := store.NewCollection("triggers", kv.NewMemoryBucket("triggers"), store.Options{CASRetries: 1})
	for _, k := range keys {
		_, err := c.Put(context.Background(), k, codec.Item{codec.AttrLocked: false}, store.ExpectAbsent)
		require.NoError(t, err)
	}
	return c
}

func TestAcquire_ExclusiveBetweenHolders(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t, "g:t1")
	m := NewManager(0, nil, nil)

	ok, err := m.Acquire(ctx, c, "g:t1", "node-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, c, "g:t1", "node-b")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lease")

	it, _, err := c.Get(ctx, "g:t1")
	require.NoError(t, err)
	assert.Equal(t, true, it[codec.AttrLocked])
	assert.Equal(t, "node-a", it[codec.AttrLockedBy])
	assert.NotZero(t, it.Int(codec.AttrLockedAt))
}

func TestAcquire_ConcurrentHoldersNeverBothWin(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		key := fmt.Sprintf("g:t%d", round)
		c := newCollection(t, key)
		m := NewManager(0, nil, nil)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(holder string) {
				defer wg.Done()
				ok, err := m.Acquire(ctx, c, key, holder)
				if err == nil && ok {
					wins.Add(1)
				}
			}(fmt.Sprintf("node-%d", i))
		}
		wg.Wait()
		assert.LessOrEqual(t, wins.Load(), int32(1), "round %d", round)
	}
}

func TestAcquire_MissingRecord(t *testing.T) {
	c := newCollection(t)
	ok, err := NewManager(0, nil, nil).Acquire(context.Background(), c, "g:none", "node-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t, "g:t1")
	m := NewManager(0, nil, nil)

	ok, err := m.Release(ctx, c, "g:t1")
	require.NoError(t, err)
	assert.True(t, ok, "releasing an unlocked record succeeds")

	before, _, _ := c.Get(ctx, "g:t1")
	ok, err = m.Release(ctx, c, "g:t1")
	require.NoError(t, err)
	assert.True(t, ok)
	after, _, _ := c.Get(ctx, "g:t1")
	assert.Equal(t, before, after, "idempotent release must not change the record")

	_, err = m.Acquire(ctx, c, "g:t1", "node-a")
	require.NoError(t, err)
	ok, err = m.Release(ctx, c, "g:t1")
	require.NoError(t, err)
	assert.True(t, ok)

	it, _, _ := c.Get(ctx, "g:t1")
	assert.Equal(t, false, it[codec.AttrLocked])
	assert.False(t, it.Has(codec.AttrLockedBy))
	assert.False(t, it.Has(codec.AttrLockedAt))

	ok, err = m.Acquire(ctx, c, "g:t1", "node-b")
	require.NoError(t, err)
	assert.True(t, ok, "released lease can be acquired by another holder")
}

func TestRelease_MissingRecord(t *testing.T) {
	ok, err := NewManager(0, nil, nil).Release(context.Background(), newCollection(t), "g:none")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseIfHeldBy(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t, "g:t1")
	m := NewManager(0, nil, nil)
	_, err := m.Acquire(ctx, c, "g:t1", "node-a")
	require.NoError(t, err)

	ok, err := m.ReleaseIfHeldBy(ctx, c, "g:t1", "node-b")
	require.NoError(t, err)
	assert.True(t, ok)
	it, _, _ := c.Get(ctx, "g:t1")
	assert.Equal(t, "node-a", it[codec.AttrLockedBy], "other holder's lease must survive")

	ok, err = m.ReleaseIfHeldBy(ctx, c, "g:t1", "node-a")
	require.NoError(t, err)
	assert.True(t, ok)
	it, _, _ = c.Get(ctx, "g:t1")
	assert.Equal(t, false, it[codec.AttrLocked])
}

func TestAcquire_StaleLeaseTakeover(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCollection(t, "g:t1")
	m := NewManager(time.Minute, clock.Now, nil)

	ok, err := m.Acquire(ctx, c, "g:t1", "crashed")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	ok, err = m.Acquire(ctx, c, "g:t1", "node-b")
	require.NoError(t, err)
	assert.False(t, ok, "fresh lease must not be taken over")

	clock.Advance(31 * time.Second)
	ok, err = m.Acquire(ctx, c, "g:t1", "node-b")
	require.NoError(t, err)
	assert.True(t, ok, "stale lease is taken over")

	it, _, _ := c.Get(ctx, "g:t1")
	assert.Equal(t, "node-b", it[codec.AttrLockedBy])
}

func TestRenew_KeepsLeaseFresh(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCollection(t, "g:j1")
	m := NewManager(time.Minute, clock.Now, nil)

	ok, err := m.Acquire(ctx, c, "g:j1", "node-a")
	require.NoError(t, err)
	require.True(t, ok)

	for range 3 {
		clock.Advance(45 * time.Second)
		ok, err = m.Renew(ctx, c, "g:j1", "node-a")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = m.Acquire(ctx, c, "g:j1", "node-b")
	require.NoError(t, err)
	assert.False(t, ok, "renewed lease must not be taken over")

	ok, err = m.Renew(ctx, c, "g:j1", "node-b")
	require.NoError(t, err)
	assert.False(t, ok, "only the holder renews")

	it, _, _ := c.Get(ctx, "g:j1")
	assert.Equal(t, "node-a", it[codec.AttrLockedBy])
}

func TestRenew_UnlockedOrMissing(t *testing.T) {
	ctx := context.Background()
	c := newCollection(t, "g:j1")
	m := NewManager(time.Minute, nil, nil)

	ok, err := m.Renew(ctx, c, "g:j1", "node-a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Renew(ctx, c, "g:missing", "node-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(time.Minute, func() time.Time { return now }, nil)
	assert.False(t, m.IsStale(time.Time{}))
	assert.False(t, m.IsStale(now.Add(-time.Minute)))
	assert.True(t, m.IsStale(now.Add(-time.Minute-time.Millisecond)))
	assert.False(t, NewManager(0, nil, nil).IsStale(now.Add(-24*time.Hour)))
}
