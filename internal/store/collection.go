// Package store implements conditional CRUD and filtered scans over the
// jobs, triggers and calendars collections.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
)

// Expect is the existence precondition of a write.
type Expect int

const (
	// ExpectAny writes regardless of whether the key exists.
	ExpectAny Expect = iota
	// ExpectAbsent requires the key to be missing.
	ExpectAbsent
	// ExpectPresent requires the key to exist.
	ExpectPresent
)

var (
	// ErrPreconditionFailed is returned by an update function to abandon
	// the write. Update then reports false.
	ErrPreconditionFailed = errors.New("store: precondition failed")
	// ErrNoChange is returned by an update function when the item already
	// has the desired content. Update then reports true without writing.
	ErrNoChange = errors.New("store: no change")
)

// DefaultCASRetries bounds the read-modify-write loop of Update.
const DefaultCASRetries = 3

// Collection is one named set of items keyed by a logical key such as
// "group:name". Logical keys are base64url encoded into bucket keys, so
// any string is a valid logical key whatever the bucket's key alphabet.
type Collection struct {
	name    string
	bucket  kv.Bucket
	retries int
	logger  *slog.Logger
}

// Options tunes a Collection.
type Options struct {
	CASRetries int
	Logger     *slog.Logger
}

// NewCollection wraps a bucket.
func NewCollection(name string, bucket kv.Bucket, opts Options) *Collection {
	if opts.CASRetries <= 0 {
		opts.CASRetries = DefaultCASRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Collection{
		name:    name,
		bucket:  bucket,
		retries: opts.CASRetries,
		logger:  opts.Logger.With("collection", name),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// EncodeKey maps a logical key to a bucket key.
func EncodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: bucket key %q: %v", core.ErrDecode, s, err)
	}
	return string(b), nil
}

// Get returns the item at key. ok is false when the key is absent.
func (c *Collection) Get(ctx context.Context, key string) (codec.Item, bool, error) {
	it, _, ok, err := c.get(ctx, key)
	return it, ok, err
}

func (c *Collection) get(ctx context.Context, key string) (codec.Item, uint64, bool, error) {
	data, rev, err := c.bucket.Get(ctx, EncodeKey(key))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		c.observe("get", err)
		return nil, 0, false, core.NewPersistenceError("get "+c.name, key, err)
	}
	c.observe("get", nil)
	it, err := codec.Unmarshal(data)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%s %s: %w", c.name, key, err)
	}
	return it, rev, true, nil
}

// Exists reports whether key is present.
func (c *Collection) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Put writes item at key. ExpectAbsent fails with core.ErrAlreadyExists if
// the key is present. ExpectPresent returns false without writing if the
// key is absent.
func (c *Collection) Put(ctx context.Context, key string, item codec.Item, expect Expect) (bool, error) {
	data, err := codec.Marshal(item)
	if err != nil {
		return false, err
	}
	bkey := EncodeKey(key)

	switch expect {
	case ExpectAbsent:
		_, err := c.bucket.Create(ctx, bkey, data)
		c.observe("create", err)
		if errors.Is(err, kv.ErrKeyExists) {
			return false, &core.ObjectAlreadyExistsError{Kind: c.name, Key: key}
		}
		if err != nil {
			return false, core.NewPersistenceError("create "+c.name, key, err)
		}
		return true, nil

	case ExpectPresent:
		for range c.retries {
			_, rev, ok, err := c.get(ctx, key)
			if err != nil || !ok {
				return false, err
			}
			_, err = c.bucket.Update(ctx, bkey, data, rev)
			c.observe("update", err)
			if errors.Is(err, kv.ErrRevisionMismatch) {
				continue
			}
			if err != nil {
				return false, core.NewPersistenceError("update "+c.name, key, err)
			}
			return true, nil
		}
		return false, nil

	default:
		_, err := c.bucket.Put(ctx, bkey, data)
		c.observe("put", err)
		if err != nil {
			return false, core.NewPersistenceError("put "+c.name, key, err)
		}
		return true, nil
	}
}

// Delete removes key. ExpectPresent returns false when the key is absent;
// ExpectAny deletes without looking.
func (c *Collection) Delete(ctx context.Context, key string, expect Expect) (bool, error) {
	if expect != ExpectPresent {
		err := c.bucket.Delete(ctx, EncodeKey(key), 0)
		c.observe("delete", err)
		if err != nil {
			return false, core.NewPersistenceError("delete "+c.name, key, err)
		}
		return true, nil
	}

	for range c.retries {
		_, rev, ok, err := c.get(ctx, key)
		if err != nil || !ok {
			return false, err
		}
		err = c.bucket.Delete(ctx, EncodeKey(key), rev)
		c.observe("delete", err)
		if errors.Is(err, kv.ErrRevisionMismatch) {
			continue
		}
		if err != nil {
			return false, core.NewPersistenceError("delete "+c.name, key, err)
		}
		return true, nil
	}
	return false, nil
}

// DeleteIf removes key only if match accepts the current item, with the
// delete conditioned on the revision that was checked. It returns false
// when the key is absent, match rejects the item, or every attempt lost a
// race with another writer.
func (c *Collection) DeleteIf(ctx context.Context, key string, match func(codec.Item) bool) (bool, error) {
	for range c.retries {
		it, rev, ok, err := c.get(ctx, key)
		if err != nil || !ok {
			return false, err
		}
		if !match(it) {
			return false, nil
		}
		err = c.bucket.Delete(ctx, EncodeKey(key), rev)
		c.observe("delete", err)
		if errors.Is(err, kv.ErrRevisionMismatch) {
			continue
		}
		if err != nil {
			return false, core.NewPersistenceError("delete "+c.name, key, err)
		}
		return true, nil
	}
	return false, nil
}

// UpdateFunc receives a private copy of the current item and returns the
// item to write, ErrPreconditionFailed, ErrNoChange or another error.
type UpdateFunc func(current codec.Item) (codec.Item, error)

// Update performs a compare-and-swap read-modify-write on key. It returns
// false when the key is absent, when fn rejects the item, or when every
// attempt lost a race with another writer. fn may run more than once.
func (c *Collection) Update(ctx context.Context, key string, fn UpdateFunc) (bool, error) {
	bkey := EncodeKey(key)
	for attempt := range c.retries {
		current, rev, ok, err := c.get(ctx, key)
		if err != nil || !ok {
			return false, err
		}
		next, err := fn(current)
		switch {
		case errors.Is(err, ErrPreconditionFailed):
			return false, nil
		case errors.Is(err, ErrNoChange):
			return true, nil
		case err != nil:
			return false, err
		}
		data, err := codec.Marshal(next)
		if err != nil {
			return false, err
		}
		_, err = c.bucket.Update(ctx, bkey, data, rev)
		c.observe("update", err)
		if errors.Is(err, kv.ErrRevisionMismatch) {
			c.logger.Debug("update lost race, retrying", "key", key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return false, core.NewPersistenceError("update "+c.name, key, err)
		}
		return true, nil
	}
	return false, nil
}

// Keys returns every logical key in sorted order.
func (c *Collection) Keys(ctx context.Context) ([]string, error) {
	raw, err := c.bucket.Keys(ctx)
	c.observe("keys", err)
	if err != nil {
		return nil, core.NewPersistenceError("list "+c.name, "", err)
	}
	keys := make([]string, 0, len(raw))
	for _, bk := range raw {
		k, err := DecodeKey(bk)
		if err != nil {
			c.logger.Warn("skipping foreign bucket key", "bucket_key", bk, "error", err)
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Count returns the number of items.
func (c *Collection) Count(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	return len(keys), err
}

// Clear deletes every item and returns how many were removed.
func (c *Collection) Clear(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var removed int
	var firstErr error
	for _, k := range keys {
		if _, err := c.Delete(ctx, k, ExpectAny); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func (c *Collection) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrRevisionMismatch), errors.Is(err, kv.ErrKeyExists):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.StoreOps.WithLabelValues(c.name, op, result).Inc()
}
