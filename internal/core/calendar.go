package core

import (
	"encoding/json"
	"time"
)

// Calendar is the stored form of an exclusion calendar. Payload is the
// rule data understood by the codec registered for Type at Version.
type Calendar struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Base        string          `json:"base,omitempty"`
	Type        string          `json:"type"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Clone returns a copy that does not share the payload.
func (c *Calendar) Clone() *Calendar {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Payload = append(json.RawMessage(nil), c.Payload...)
	return &cp
}

// ExclusionCalendar is the evaluated form of a Calendar.
type ExclusionCalendar interface {
	// IsTimeIncluded reports whether a trigger may fire at t.
	IsTimeIncluded(t time.Time) bool
	// NextIncludedTime returns the earliest included time after t.
	NextIncludedTime(t time.Time) time.Time
}
