package codec

import (
	"fmt"
	"slices"
	"sync"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// DecodeFunc turns a versioned payload into a value.
type DecodeFunc[T any] func(payload []byte) (T, error)

// Registry maps a type tag and version to a decoder. Unknown tags and
// versions are rejected with core.ErrUnknownType.
type Registry[T any] struct {
	mu     sync.RWMutex
	codecs map[string]map[int]DecodeFunc[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{codecs: make(map[string]map[int]DecodeFunc[T])}
}

// Register installs decode for name at version, replacing any previous one.
func (r *Registry[T]) Register(name string, version int, decode DecodeFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.codecs[name] == nil {
		r.codecs[name] = make(map[int]DecodeFunc[T])
	}
	r.codecs[name][version] = decode
}

// Decode runs the decoder for name at version.
func (r *Registry[T]) Decode(name string, version int, payload []byte) (T, error) {
	r.mu.RLock()
	decode, ok := r.codecs[name][version]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s v%d", core.ErrUnknownType, name, version)
	}
	v, err := decode(payload)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s v%d: %v", core.ErrDecode, name, version, err)
	}
	return v, nil
}

// Validate decodes payload and discards the result.
func (r *Registry[T]) Validate(name string, version int, payload []byte) error {
	_, err := r.Decode(name, version, payload)
	return err
}

// Names lists the registered type tags.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validator checks that a typed payload can be decoded.
type Validator interface {
	Validate(name string, version int, payload []byte) error
}
