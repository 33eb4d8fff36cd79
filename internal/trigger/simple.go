package trigger

import (
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// simpleRule fires at the start time and then every repeat interval,
// RepeatCount further times (or forever) and never after the end time.
type simpleRule struct{}

func (simpleRule) FireTimeAfter(t *core.Trigger, after time.Time) time.Time {
	s := t.Simple
	if s.RepeatCount != core.RepeatIndefinitely && s.TimesTriggered > s.RepeatCount {
		return time.Time{}
	}
	if s.RepeatCount == 0 && !after.Before(t.StartTime) {
		return time.Time{}
	}
	if !t.EndTime.IsZero() && !t.EndTime.After(after) {
		return time.Time{}
	}
	if after.Before(t.StartTime) {
		return t.StartTime
	}
	if s.RepeatInterval <= 0 {
		return time.Time{}
	}

	executed := int64(after.Sub(t.StartTime)/s.RepeatInterval) + 1
	if s.RepeatCount != core.RepeatIndefinitely && executed > int64(s.RepeatCount) {
		return time.Time{}
	}
	next := t.StartTime.Add(time.Duration(executed) * s.RepeatInterval)
	if !t.EndTime.IsZero() && !t.EndTime.After(next) {
		return time.Time{}
	}
	return next
}

func (simpleRule) FinalFireTime(t *core.Trigger) time.Time {
	s := t.Simple
	if s.RepeatCount == 0 {
		return t.StartTime
	}
	if s.RepeatCount == core.RepeatIndefinitely {
		if t.EndTime.IsZero() {
			return time.Time{}
		}
		return fireTimeBefore(t, t.EndTime)
	}
	last := t.StartTime.Add(time.Duration(s.RepeatCount) * s.RepeatInterval)
	if t.EndTime.IsZero() || !t.EndTime.Before(last) {
		return last
	}
	return fireTimeBefore(t, t.EndTime)
}

func fireTimeBefore(t *core.Trigger, end time.Time) time.Time {
	if end.Before(t.StartTime) || t.Simple.RepeatInterval <= 0 {
		return time.Time{}
	}
	n := end.Sub(t.StartTime) / t.Simple.RepeatInterval
	return t.StartTime.Add(n * t.Simple.RepeatInterval)
}

func (r simpleRule) Triggered(t *core.Trigger, cal core.ExclusionCalendar) {
	t.Simple.TimesTriggered++
	t.PreviousFireTime = t.NextFireTime
	t.NextFireTime = skipExcluded(r, t, cal, r.FireTimeAfter(t, t.NextFireTime))
}

func (r simpleRule) ApplyMisfire(t *core.Trigger, cal core.ExclusionCalendar, now time.Time) {
	s := t.Simple
	instr := t.MisfireInstruction
	if instr == core.MisfireSmartPolicy {
		switch s.RepeatCount {
		case 0:
			instr = core.MisfireSimpleFireNow
		case core.RepeatIndefinitely:
			instr = core.MisfireSimpleRescheduleNextWithRemainingCount
		default:
			instr = core.MisfireSimpleRescheduleNowWithExistingCount
		}
	} else if instr == core.MisfireSimpleFireNow && s.RepeatCount != 0 {
		instr = core.MisfireSimpleRescheduleNowWithRemainingCount
	}

	switch instr {
	case core.MisfireSimpleFireNow:
		t.NextFireTime = now

	case core.MisfireSimpleRescheduleNextWithExistingCount:
		t.NextFireTime = skipExcluded(r, t, cal, r.FireTimeAfter(t, now))

	case core.MisfireSimpleRescheduleNextWithRemainingCount:
		next := skipExcluded(r, t, cal, r.FireTimeAfter(t, now))
		if !next.IsZero() {
			s.TimesTriggered += timesBetween(s.RepeatInterval, t.NextFireTime, next)
		}
		t.NextFireTime = next

	case core.MisfireSimpleRescheduleNowWithExistingCount:
		if s.RepeatCount != 0 && s.RepeatCount != core.RepeatIndefinitely {
			s.RepeatCount -= s.TimesTriggered
			s.TimesTriggered = 0
		}
		rescheduleNow(t, now)

	case core.MisfireSimpleRescheduleNowWithRemainingCount:
		missed := timesBetween(s.RepeatInterval, t.NextFireTime, now)
		if s.RepeatCount != 0 && s.RepeatCount != core.RepeatIndefinitely {
			remaining := s.RepeatCount - (s.TimesTriggered + missed)
			if remaining < 0 {
				remaining = 0
			}
			s.RepeatCount = remaining
			s.TimesTriggered = 0
		}
		rescheduleNow(t, now)
	}
}

func rescheduleNow(t *core.Trigger, now time.Time) {
	if !t.EndTime.IsZero() && t.EndTime.Before(now) {
		t.NextFireTime = time.Time{}
		return
	}
	t.StartTime = now
	t.NextFireTime = now
}

func timesBetween(interval time.Duration, start, end time.Time) int {
	if interval <= 0 || !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / interval)
}
