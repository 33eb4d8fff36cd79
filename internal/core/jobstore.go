package core

import (
	"context"
	"time"
)

// SchedulerSignaler receives notifications from the job store. Calls are
// made synchronously from store operations and must not block.
type SchedulerSignaler interface {
	NotifyTriggerListenersMisfired(ctx context.Context, trigger *Trigger)
	NotifySchedulerListenersFinalized(ctx context.Context, trigger *Trigger)
	NotifySchedulerListenersJobDeleted(ctx context.Context, jobKey Key)
	// SignalSchedulingChange hints that the next fire time may have moved.
	// The zero time means "unknown".
	SignalSchedulingChange(candidateNewNextFireTime time.Time)
}

// JobResolver is the loader context of a job store. It reports whether a
// job class can be executed by this process.
type JobResolver interface {
	HasJob(class string) bool
}

// TriggerFiredBundle is handed to the executor for each fired trigger.
type TriggerFiredBundle struct {
	Job               *JobDetail `json:"job"`
	Trigger           *Trigger   `json:"trigger"`
	Calendar          *Calendar  `json:"calendar,omitempty"`
	Recovering        bool       `json:"recovering,omitempty"`
	FireTime          time.Time  `json:"fire_time"`
	ScheduledFireTime time.Time  `json:"scheduled_fire_time,omitzero"`
	PrevFireTime      time.Time  `json:"prev_fire_time,omitzero"`
	NextFireTime      time.Time  `json:"next_fire_time,omitzero"`
}

// JobWithTriggers pairs a job with the triggers stored alongside it.
type JobWithTriggers struct {
	Job      *JobDetail `json:"job"`
	Triggers []*Trigger `json:"triggers"`
}

// Counts summarizes the size of each collection.
type Counts struct {
	Jobs      int `json:"jobs"`
	Triggers  int `json:"triggers"`
	Calendars int `json:"calendars"`
}

// JobStore is the operation set a scheduling front-end drives.
type JobStore interface {
	Initialize(ctx context.Context, resolver JobResolver, signaler SchedulerSignaler) error
	SchedulerStarted(ctx context.Context) error
	SchedulerPaused(ctx context.Context)
	SchedulerResumed(ctx context.Context)
	Shutdown(ctx context.Context)
	SupportsPersistence() bool
	IsClustered() bool
	EstimatedTimeToReleaseAndAcquireTrigger() time.Duration

	StoreJobAndTrigger(ctx context.Context, job *JobDetail, trigger *Trigger) error
	StoreJob(ctx context.Context, job *JobDetail, replace bool) error
	StoreJobsAndTriggers(ctx context.Context, jobs []JobWithTriggers, replace bool) error
	RemoveJob(ctx context.Context, key Key) (bool, error)
	RemoveJobs(ctx context.Context, keys []Key) (bool, error)
	RetrieveJob(ctx context.Context, key Key) (*JobDetail, error)
	CheckJobExists(ctx context.Context, key Key) (bool, error)

	StoreTrigger(ctx context.Context, trigger *Trigger, replace bool) error
	RemoveTrigger(ctx context.Context, key Key) (bool, error)
	RemoveTriggers(ctx context.Context, keys []Key) (bool, error)
	ReplaceTrigger(ctx context.Context, key Key, trigger *Trigger) (bool, error)
	RetrieveTrigger(ctx context.Context, key Key) (*Trigger, error)
	CheckTriggerExists(ctx context.Context, key Key) (bool, error)
	TriggerState(ctx context.Context, key Key) (TriggerState, error)

	StoreCalendar(ctx context.Context, cal *Calendar, replace, updateTriggers bool) error
	RemoveCalendar(ctx context.Context, name string) (bool, error)
	RetrieveCalendar(ctx context.Context, name string) (*Calendar, error)
	CalendarNames(ctx context.Context) ([]string, error)

	NumberOfJobs(ctx context.Context) (int, error)
	NumberOfTriggers(ctx context.Context) (int, error)
	NumberOfCalendars(ctx context.Context) (int, error)
	JobKeys(ctx context.Context, matcher GroupMatcher) ([]Key, error)
	TriggerKeys(ctx context.Context, matcher GroupMatcher) ([]Key, error)
	JobGroupNames(ctx context.Context) ([]string, error)
	TriggerGroupNames(ctx context.Context) ([]string, error)
	TriggersForJob(ctx context.Context, key Key) ([]*Trigger, error)

	PauseTrigger(ctx context.Context, key Key) (bool, error)
	PauseTriggers(ctx context.Context, matcher GroupMatcher) ([]string, error)
	PauseJob(ctx context.Context, key Key) (bool, error)
	PauseJobs(ctx context.Context, matcher GroupMatcher) ([]string, error)
	ResumeTrigger(ctx context.Context, key Key) (bool, error)
	ResumeTriggers(ctx context.Context, matcher GroupMatcher) ([]string, error)
	ResumeJob(ctx context.Context, key Key) (bool, error)
	ResumeJobs(ctx context.Context, matcher GroupMatcher) ([]string, error)
	PausedTriggerGroups(ctx context.Context) ([]string, error)
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error

	AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]*Trigger, error)
	ReleaseAcquiredTrigger(ctx context.Context, trigger *Trigger) error
	TriggersFired(ctx context.Context, triggers []*Trigger) ([]*TriggerFiredBundle, error)
	TriggeredJobComplete(ctx context.Context, trigger *Trigger, job *JobDetail, instruction CompletedExecutionInstruction) error

	ClearAllSchedulingData(ctx context.Context) error
}

// Event types published for scheduling notifications.
const (
	EventTriggerMisfired  = "trigger.misfired"
	EventTriggerFinalized = "trigger.finalized"
	EventTriggerFired     = "trigger.fired"
	EventJobDeleted       = "job.deleted"
	EventJobCompleted     = "job.completed"
	EventJobFailed        = "job.failed"
)

// SchedulingEvent is the payload published for scheduling notifications.
type SchedulingEvent struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	Trigger    string    `json:"trigger,omitempty"`
	Job        string    `json:"job,omitempty"`
	FireTime   time.Time `json:"fire_time,omitzero"`
	Time       time.Time `json:"time"`
	Error      string    `json:"error,omitempty"`
}
