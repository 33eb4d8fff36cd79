package kv

import (
	"context"
	"sync"
)

// MemoryBucket is an in-process Bucket with the same CAS semantics as the
// NATS adapter. Revisions come from a sequence shared by all keys.
type MemoryBucket struct {
	name string

	mu      sync.Mutex
	seq     uint64
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value    []byte
	revision uint64
}

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, entries: make(map[string]memoryEntry)}
}

func (b *MemoryBucket) Name() string { return b.name }

func (b *MemoryBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, 0, ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), e.revision, nil
}

func (b *MemoryBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store(key, value), nil
}

func (b *MemoryBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return b.store(key, value), nil
}

func (b *MemoryBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.revision != revision {
		return 0, ErrRevisionMismatch
	}
	return b.store(key, value), nil
}

func (b *MemoryBucket) Delete(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if revision != 0 && (!ok || e.revision != revision) {
		return ErrRevisionMismatch
	}
	delete(b.entries, key)
	return nil
}

func (b *MemoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *MemoryBucket) store(key string, value []byte) uint64 {
	b.seq++
	b.entries[key] = memoryEntry{value: append([]byte(nil), value...), revision: b.seq}
	return b.seq
}
