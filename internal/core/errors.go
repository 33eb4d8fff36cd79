package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when storing a record that must be new.
	ErrAlreadyExists = errors.New("object already exists")
	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrJobNotFound is returned when a trigger references a missing job.
	ErrJobNotFound = errors.New("job not found")
	// ErrCalendarInUse is returned when removing a referenced calendar.
	ErrCalendarInUse = errors.New("calendar is in use")
	// ErrPersistence marks store or transport failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrDecode marks a stored record that cannot be decoded.
	ErrDecode = errors.New("decode failure")
	// ErrUnknownType marks a type tag or codec version with no registered codec.
	ErrUnknownType = errors.New("unknown type")
	// ErrInvalidKey marks a malformed job or trigger key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidTrigger marks a trigger that can never fire.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrLeaseLost is returned when renewing a lease this instance no
	// longer holds.
	ErrLeaseLost = errors.New("lease lost")
)

// PersistenceError wraps a failure of the underlying store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError wraps err unless it is nil or already a PersistenceError.
func NewPersistenceError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}

// ObjectAlreadyExistsError reports which record already exists.
type ObjectAlreadyExistsError struct {
	Kind string
	Key  string
}

func (e *ObjectAlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Key)
}

func (e *ObjectAlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }
