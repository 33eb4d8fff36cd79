package core

import (
	"maps"
	"time"
)

// JobDataMap is the free-form data bag carried by jobs and triggers.
type JobDataMap map[string]any

// Clone returns a shallow copy. Nested maps and slices are shared.
func (m JobDataMap) Clone() JobDataMap {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Lock is the lease carried by jobs and triggers.
type Lock struct {
	Locked   bool      `json:"locked"`
	LockedBy string    `json:"locked_by,omitempty"`
	LockedAt time.Time `json:"locked_at,omitzero"`
}

// HeldBy reports whether holder currently owns the lease.
func (l Lock) HeldBy(holder string) bool {
	return l.Locked && l.LockedBy == holder
}

// JobDetail is the stored definition of a job.
type JobDetail struct {
	Key                Key        `json:"key"`
	Class              string     `json:"class"`
	Description        string     `json:"description,omitempty"`
	Durable            bool       `json:"durable"`
	DisallowConcurrent bool       `json:"disallow_concurrent"`
	PersistData        bool       `json:"persist_data"`
	RequestsRecovery   bool       `json:"requests_recovery,omitempty"`
	Data               JobDataMap `json:"data,omitempty"`

	// Paused is set by pauseJob and cleared by resumeJob.
	Paused bool `json:"paused,omitempty"`
	Lock   Lock `json:"lock"`
}

// Clone returns a copy that does not share the data bag.
func (j *JobDetail) Clone() *JobDetail {
	if j == nil {
		return nil
	}
	c := *j
	c.Data = j.Data.Clone()
	return &c
}
