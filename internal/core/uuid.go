package core

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsValidUUIDv7 reports whether s is a well-formed version 7 UUID.
func IsValidUUIDv7(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7 && id.Variant() == uuid.RFC4122
}
