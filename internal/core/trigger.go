package core

import "time"

// TriggerType selects the fire-time rule of a trigger.
type TriggerType string

const (
	TriggerSimple TriggerType = "simple"
	TriggerCron   TriggerType = "cron"
	TriggerOpaque TriggerType = "opaque"
)

// RepeatIndefinitely is the repeat count of a simple trigger with no end.
const RepeatIndefinitely = -1

// SimpleSchedule fires at Start and then every Interval, RepeatCount more times.
type SimpleSchedule struct {
	RepeatCount    int           `json:"repeat_count"`
	RepeatInterval time.Duration `json:"repeat_interval"`
	TimesTriggered int           `json:"times_triggered"`
}

// CronSchedule fires on a cron expression evaluated in TimeZone.
type CronSchedule struct {
	Expression string `json:"expression"`
	TimeZone   string `json:"time_zone,omitempty"`
}

// OpaqueSchedule is a schedule whose rule lives in a registered codec.
type OpaqueSchedule struct {
	Codec   string `json:"codec"`
	Version int    `json:"version"`
	Blob    []byte `json:"blob"`
}

// Trigger is the stored state of a schedule attached to a job.
// Zero times mean "not set".
type Trigger struct {
	Key                Key          `json:"key"`
	JobKey             Key          `json:"job_key"`
	Description        string       `json:"description,omitempty"`
	Priority           int          `json:"priority"`
	MisfireInstruction int          `json:"misfire_instruction"`
	CalendarName       string       `json:"calendar_name,omitempty"`
	Data               JobDataMap   `json:"data,omitempty"`
	State              TriggerState `json:"state,omitempty"`
	FireInstanceID     string       `json:"fire_instance_id,omitempty"`

	StartTime        time.Time `json:"start_time,omitzero"`
	EndTime          time.Time `json:"end_time,omitzero"`
	NextFireTime     time.Time `json:"next_fire_time,omitzero"`
	PreviousFireTime time.Time `json:"previous_fire_time,omitzero"`
	FinalFireTime    time.Time `json:"final_fire_time,omitzero"`

	Type   TriggerType     `json:"type"`
	Simple *SimpleSchedule `json:"simple,omitempty"`
	Cron   *CronSchedule   `json:"cron,omitempty"`
	Opaque *OpaqueSchedule `json:"opaque,omitempty"`

	Lock Lock `json:"lock"`
}

// DefaultPriority is assigned to triggers stored without a priority.
const DefaultPriority = 5

// Clone returns a deep copy of the trigger.
func (t *Trigger) Clone() *Trigger {
	if t == nil {
		return nil
	}
	c := *t
	c.Data = t.Data.Clone()
	if t.Simple != nil {
		s := *t.Simple
		c.Simple = &s
	}
	if t.Cron != nil {
		cr := *t.Cron
		c.Cron = &cr
	}
	if t.Opaque != nil {
		o := *t.Opaque
		o.Blob = append([]byte(nil), t.Opaque.Blob...)
		c.Opaque = &o
	}
	return &c
}

// MayFireAgain reports whether the trigger has a next fire time.
func (t *Trigger) MayFireAgain() bool {
	return !t.NextFireTime.IsZero()
}
