package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// CalendarIntervalCodec is the opaque codec name of calendar-interval
// triggers, which fire every N calendar units from the start time.
const CalendarIntervalCodec = "calendar-interval"

// IntervalUnit is the calendar unit of a calendar-interval trigger.
type IntervalUnit string

const (
	UnitSecond IntervalUnit = "second"
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
	UnitMonth  IntervalUnit = "month"
	UnitYear   IntervalUnit = "year"
)

// CalendarInterval is the blob of a calendar-interval trigger, version 1.
// Day and larger units step in TimeZone so that local wall time is kept
// across daylight saving changes.
type CalendarInterval struct {
	Unit     IntervalUnit `json:"unit"`
	Interval int          `json:"interval"`
	TimeZone string       `json:"time_zone,omitempty"`

	loc *time.Location
}

// NewCalendarIntervalBlob encodes a version 1 blob.
func NewCalendarIntervalBlob(unit IntervalUnit, interval int, tz string) ([]byte, error) {
	ci := CalendarInterval{Unit: unit, Interval: interval, TimeZone: tz}
	if err := ci.init(); err != nil {
		return nil, err
	}
	return json.Marshal(ci)
}

func decodeCalendarInterval(blob []byte) (Opaque, error) {
	var ci CalendarInterval
	if err := json.Unmarshal(blob, &ci); err != nil {
		return nil, err
	}
	if err := ci.init(); err != nil {
		return nil, err
	}
	return &ci, nil
}

func (ci *CalendarInterval) init() error {
	if ci.Interval < 1 {
		return fmt.Errorf("interval must be at least 1, got %d", ci.Interval)
	}
	switch ci.Unit {
	case UnitSecond, UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear:
	default:
		return fmt.Errorf("unknown interval unit %q", ci.Unit)
	}
	ci.loc = time.UTC
	if ci.TimeZone != "" {
		loc, err := time.LoadLocation(ci.TimeZone)
		if err != nil {
			return fmt.Errorf("invalid time zone %q: %w", ci.TimeZone, err)
		}
		ci.loc = loc
	}
	return nil
}

// step returns the n-th fire time counted from start.
func (ci *CalendarInterval) step(start time.Time, n int) time.Time {
	s := start.In(ci.loc)
	k := n * ci.Interval
	switch ci.Unit {
	case UnitSecond:
		return start.Add(time.Duration(k) * time.Second)
	case UnitMinute:
		return start.Add(time.Duration(k) * time.Minute)
	case UnitHour:
		return start.Add(time.Duration(k) * time.Hour)
	case UnitDay:
		return s.AddDate(0, 0, k).UTC()
	case UnitWeek:
		return s.AddDate(0, 0, 7*k).UTC()
	case UnitMonth:
		return s.AddDate(0, k, 0).UTC()
	}
	return s.AddDate(k, 0, 0).UTC()
}

// maxUnit is the longest a single unit can last, so that elapsed time
// divided by it never overestimates the number of steps taken.
func (ci *CalendarInterval) maxUnit() time.Duration {
	switch ci.Unit {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 25 * time.Hour
	case UnitWeek:
		return 7*24*time.Hour + time.Hour
	case UnitMonth:
		return 31*24*time.Hour + time.Hour
	}
	return 366*24*time.Hour + time.Hour
}

// lowerStep returns a step index whose fire time is not after t.
func (ci *CalendarInterval) lowerStep(start, t time.Time) int {
	n := int(t.Sub(start)/(ci.maxUnit()*time.Duration(ci.Interval))) - 1
	if n < 0 {
		return 0
	}
	return n
}

func (ci *CalendarInterval) FireTimeAfter(t *core.Trigger, after time.Time) time.Time {
	start := t.StartTime
	if after.Before(start) {
		return start
	}
	n := ci.lowerStep(start, after)
	next := ci.step(start, n)
	for !next.After(after) {
		n++
		next = ci.step(start, n)
		if core.PastMaxYear(next) {
			return time.Time{}
		}
	}
	if !t.EndTime.IsZero() && next.After(t.EndTime) {
		return time.Time{}
	}
	return next
}

// FinalFireTime is only known when an end time is set.
func (ci *CalendarInterval) FinalFireTime(t *core.Trigger) time.Time {
	if t.EndTime.IsZero() {
		return time.Time{}
	}
	if t.EndTime.Before(t.StartTime) {
		return time.Time{}
	}
	n := ci.lowerStep(t.StartTime, t.EndTime)
	last := ci.step(t.StartTime, n)
	for {
		next := ci.step(t.StartTime, n+1)
		if next.After(t.EndTime) || core.PastMaxYear(next) {
			return last
		}
		last = next
		n++
	}
}
