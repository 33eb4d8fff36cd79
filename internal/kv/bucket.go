package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get for a missing or deleted key.
	ErrKeyNotFound = errors.New("kv: key not found")
	// ErrKeyExists is returned by Create when the key is present.
	ErrKeyExists = errors.New("kv: key exists")
	// ErrRevisionMismatch is returned by Update and Delete when the stored
	// revision differs from the expected one.
	ErrRevisionMismatch = errors.New("kv: revision mismatch")
)

// Bucket is a key-value collection with per-key compare-and-swap.
// Every successful write returns a new revision that is unique within
// the bucket.
type Bucket interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	// Delete removes key. A revision of 0 deletes unconditionally.
	Delete(ctx context.Context, key string, revision uint64) error
	// Keys lists the live keys in no particular order.
	Keys(ctx context.Context) ([]string, error)
}
