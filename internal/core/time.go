package core

import "time"

// MaxYear bounds fire time computation; later times count as "never".
const MaxYear = 2299

// ToMillis converts t to epoch milliseconds. The zero time maps to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to UTC time. 0 maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// PastMaxYear reports whether t is beyond the schedulable horizon.
func PastMaxYear(t time.Time) bool {
	return !t.IsZero() && t.Year() > MaxYear
}
