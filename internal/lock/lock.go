// Package lock implements the per-record lease used for all mutual
// exclusion between scheduler instances. A lease is three attributes of
// the record itself (locked, lockedBy, lockedAt) changed only through
// compare-and-swap, so at most one holder can observe a successful acquire
// for any given revision of the record.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

// Manager acquires and releases leases on records of any collection.
type Manager struct {
	// staleAfter lets a lease older than this be taken over. Zero keeps
	// leases until released.
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager creates a lock manager. now defaults to time.Now.
func NewManager(staleAfter time.Duration, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{staleAfter: staleAfter, now: now, logger: logger.With("component", "lock")}
}

// Acquire sets the lease on key for holder if the record is unlocked or
// its lease is stale. It returns false, not an error, when another holder
// owns the lease or the record does not exist.
func (m *Manager) Acquire(ctx context.Context, c *store.Collection, key, holder string) (bool, error) {
	return m.AcquireIf(ctx, c, key, holder, nil)
}

// AcquireIf is Acquire with an extra precondition. check sees the current
// item before the lease is set and may modify it; returning
// store.ErrPreconditionFailed abandons the acquisition.
func (m *Manager) AcquireIf(ctx context.Context, c *store.Collection, key, holder string, check func(codec.Item) error) (bool, error) {
	stolenFrom := ""
	ok, err := c.Update(ctx, key, func(it codec.Item) (codec.Item, error) {
		stolenFrom = ""
		if it.Bool(codec.AttrLocked) {
			if !m.isStale(it) {
				return nil, store.ErrPreconditionFailed
			}
			stolenFrom = it.String(codec.AttrLockedBy)
		}
		if check != nil {
			if err := check(it); err != nil {
				return nil, err
			}
		}
		it[codec.AttrLocked] = true
		it[codec.AttrLockedBy] = holder
		it[codec.AttrLockedAt] = core.ToMillis(m.now())
		return it, nil
	})
	if err != nil {
		return false, err
	}

	switch {
	case !ok:
		metrics.LockAttempts.WithLabelValues(c.Name(), "contended").Inc()
	case stolenFrom != "":
		metrics.LockAttempts.WithLabelValues(c.Name(), "stolen").Inc()
		m.logger.Warn("took over stale lease", "collection", c.Name(), "key", key,
			"holder", holder, "previous_holder", stolenFrom)
	default:
		metrics.LockAttempts.WithLabelValues(c.Name(), "acquired").Inc()
	}
	return ok, nil
}

// Renew refreshes lockedAt on a lease held by holder. It returns false when
// holder no longer owns the lease or the record is gone.
func (m *Manager) Renew(ctx context.Context, c *store.Collection, key, holder string) (bool, error) {
	ok, err := c.Update(ctx, key, func(it codec.Item) (codec.Item, error) {
		if !it.Bool(codec.AttrLocked) || it.String(codec.AttrLockedBy) != holder {
			return nil, store.ErrPreconditionFailed
		}
		it[codec.AttrLockedAt] = core.ToMillis(m.now())
		return it, nil
	})
	if err != nil {
		return false, err
	}
	result := "renewed"
	if !ok {
		result = "lost"
	}
	metrics.LockAttempts.WithLabelValues(c.Name(), result).Inc()
	return ok, nil
}

// Release clears the lease on key whoever holds it. Releasing an unlocked
// record succeeds without writing. It returns false only when the record
// does not exist.
func (m *Manager) Release(ctx context.Context, c *store.Collection, key string) (bool, error) {
	return m.release(ctx, c, key, "")
}

// ReleaseIfHeldBy clears the lease only if holder owns it. It returns true
// when the record ends up not leased by holder.
func (m *Manager) ReleaseIfHeldBy(ctx context.Context, c *store.Collection, key, holder string) (bool, error) {
	return m.release(ctx, c, key, holder)
}

func (m *Manager) release(ctx context.Context, c *store.Collection, key, holder string) (bool, error) {
	result := "released"
	ok, err := c.Update(ctx, key, func(it codec.Item) (codec.Item, error) {
		result = "released"
		if !it.Bool(codec.AttrLocked) {
			result = "already_unlocked"
			return nil, store.ErrNoChange
		}
		if holder != "" && it.String(codec.AttrLockedBy) != holder {
			result = "not_holder"
			return nil, store.ErrNoChange
		}
		unlockItem(it)
		return it, nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		result = "missing"
	}
	metrics.LockReleases.WithLabelValues(c.Name(), result).Inc()
	return ok, nil
}

// IsStale reports whether a lease taken at lockedAt may be taken over now.
func (m *Manager) IsStale(lockedAt time.Time) bool {
	if m.staleAfter <= 0 || lockedAt.IsZero() {
		return false
	}
	return m.now().Sub(lockedAt) > m.staleAfter
}

func (m *Manager) isStale(it codec.Item) bool {
	return m.IsStale(core.FromMillis(it.Int(codec.AttrLockedAt)))
}

func unlockItem(it codec.Item) {
	it[codec.AttrLocked] = false
	delete(it, codec.AttrLockedBy)
	delete(it, codec.AttrLockedAt)
}
