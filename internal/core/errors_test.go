package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestPersistenceError_Error(t *testing.T) {
	err := &PersistenceError{Op: "get trigger", Key: "g:t1", Err: errors.New("timeout")}
	got := err.Error()
	want := "get trigger g:t1: timeout"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPersistenceError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("store job: %w", NewPersistenceError("put", "g:j1", cause))

	if !errors.Is(err, ErrPersistence) {
		t.Error("expected errors.Is(err, ErrPersistence)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
}

func TestNewPersistenceError_Nil(t *testing.T) {
	if err := NewPersistenceError("put", "k", nil); err != nil {
		t.Errorf("NewPersistenceError(nil) = %v, want nil", err)
	}
}

func TestNewPersistenceError_NoDoubleWrap(t *testing.T) {
	inner := NewPersistenceError("get", "a", errors.New("x"))
	outer := NewPersistenceError("update", "b", inner)
	if outer != inner {
		t.Errorf("NewPersistenceError() rewrapped an existing PersistenceError")
	}
}

func TestObjectAlreadyExistsError(t *testing.T) {
	err := &ObjectAlreadyExistsError{Kind: "job", Key: "g:j1"}
	if !errors.Is(err, ErrAlreadyExists) {
		t.Error("expected errors.Is(err, ErrAlreadyExists)")
	}
	if got, want := err.Error(), `job "g:j1" already exists`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
