package kv

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// Store adapts a NATS KV bucket to Bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Name returns the bucket name.
func (s *Store) Name() string {
	return s.kv.Bucket()
}

// Get retrieves a value and its revision.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, translate(err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Put(ctx, key, value)
	return rev, translate(err)
}

// Create stores a value at key only if it doesn't already exist.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	return rev, translate(err)
}

// Update stores a value at key only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := s.kv.Update(ctx, key, value, revision)
	return rev, translate(err)
}

// Delete removes a key, optionally only at the given revision.
func (s *Store) Delete(ctx context.Context, key string, revision uint64) error {
	if revision == 0 {
		return translate(s.kv.Delete(ctx, key))
	}
	return translate(s.kv.Delete(ctx, key, jetstream.LastRevision(revision)))
}

// Keys returns all live keys in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		// An empty bucket is reported as an error by NATS
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, translate(err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return ErrKeyNotFound
	case errors.Is(err, jetstream.ErrKeyExists):
		return ErrKeyExists
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return ErrRevisionMismatch
	}
	return err
}
