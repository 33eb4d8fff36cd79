// Package trigger computes fire times for the built-in trigger types and
// for opaque types provided by registered codecs.
package trigger

import (
	"fmt"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Rule is the fire-time arithmetic of one trigger type.
type Rule interface {
	// FireTimeAfter returns the first fire time strictly after after, or
	// the zero time when the trigger will not fire again.
	FireTimeAfter(t *core.Trigger, after time.Time) time.Time
	// FinalFireTime returns the last fire time, or zero when unbounded or
	// unknown.
	FinalFireTime(t *core.Trigger) time.Time
	// ApplyMisfire rewrites the trigger's schedule according to its misfire
	// instruction.
	ApplyMisfire(t *core.Trigger, cal core.ExclusionCalendar, now time.Time)
	// Triggered records that the trigger fired at its next fire time.
	Triggered(t *core.Trigger, cal core.ExclusionCalendar)
}

// Opaque is the decoded form of an opaque trigger blob.
type Opaque interface {
	FireTimeAfter(t *core.Trigger, after time.Time) time.Time
	FinalFireTime(t *core.Trigger) time.Time
}

// Evaluator dispatches fire-time computation by trigger type.
type Evaluator struct {
	opaque *codec.Registry[Opaque]
	now    func() time.Time
}

// NewEvaluator creates an evaluator with the built-in opaque codecs
// registered. now defaults to time.Now.
func NewEvaluator(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	e := &Evaluator{opaque: codec.NewRegistry[Opaque](), now: now}
	e.opaque.Register(CalendarIntervalCodec, 1, decodeCalendarInterval)
	return e
}

// Opaque returns the registry of opaque trigger codecs.
func (e *Evaluator) Opaque() *codec.Registry[Opaque] { return e.opaque }

// Rule returns the rule for the trigger's type.
func (e *Evaluator) Rule(t *core.Trigger) (Rule, error) {
	switch t.Type {
	case core.TriggerSimple:
		if t.Simple == nil {
			return nil, fmt.Errorf("%w: simple trigger %s has no schedule", core.ErrInvalidTrigger, t.Key)
		}
		return simpleRule{}, nil
	case core.TriggerCron:
		sched, err := ParseCron(t.Cron)
		if err != nil {
			return nil, err
		}
		return &stepRule{steps: sched, smart: core.MisfireCronFireOnceNow}, nil
	case core.TriggerOpaque:
		if t.Opaque == nil {
			return nil, fmt.Errorf("%w: opaque trigger %s has no codec", core.ErrInvalidTrigger, t.Key)
		}
		o, err := e.opaque.Decode(t.Opaque.Codec, t.Opaque.Version, t.Opaque.Blob)
		if err != nil {
			return nil, err
		}
		return &stepRule{steps: o, smart: core.MisfireCronFireOnceNow}, nil
	}
	return nil, fmt.Errorf("%w: trigger type %q", core.ErrUnknownType, t.Type)
}

// Validate checks that the trigger's rule can be built.
func (e *Evaluator) Validate(t *core.Trigger) error {
	_, err := e.Rule(t)
	return err
}

// ComputeFirstFireTime sets the first fire time at or after the start time
// that the calendar allows, and the final fire time. It returns the new
// next fire time, zero if the trigger can never fire.
func (e *Evaluator) ComputeFirstFireTime(t *core.Trigger, cal core.ExclusionCalendar) (time.Time, error) {
	r, err := e.Rule(t)
	if err != nil {
		return time.Time{}, err
	}
	if t.StartTime.IsZero() {
		t.StartTime = e.now().Truncate(time.Second)
	}
	next := r.FireTimeAfter(t, t.StartTime.Add(-time.Millisecond))
	next = skipExcluded(r, t, cal, next)
	t.NextFireTime = next
	t.FinalFireTime = r.FinalFireTime(t)
	return next, nil
}

// Triggered advances the trigger past its current next fire time.
func (e *Evaluator) Triggered(t *core.Trigger, cal core.ExclusionCalendar) error {
	r, err := e.Rule(t)
	if err != nil {
		return err
	}
	r.Triggered(t, cal)
	return nil
}

// UpdateAfterMisfire applies the trigger's misfire instruction.
func (e *Evaluator) UpdateAfterMisfire(t *core.Trigger, cal core.ExclusionCalendar) error {
	r, err := e.Rule(t)
	if err != nil {
		return err
	}
	if t.MisfireInstruction == core.MisfireIgnorePolicy {
		return nil
	}
	r.ApplyMisfire(t, cal, e.now())
	return nil
}

// UpdateWithNewCalendar recomputes the next fire time after the trigger's
// calendar changed. Times more than threshold in the past are skipped.
func (e *Evaluator) UpdateWithNewCalendar(t *core.Trigger, cal core.ExclusionCalendar, threshold time.Duration) error {
	r, err := e.Rule(t)
	if err != nil {
		return err
	}
	after := t.PreviousFireTime
	if after.IsZero() {
		after = t.StartTime.Add(-time.Millisecond)
	}
	next := r.FireTimeAfter(t, after)
	if next.IsZero() || cal == nil {
		t.NextFireTime = next
		return nil
	}
	now := e.now()
	for !next.IsZero() && !cal.IsTimeIncluded(next) {
		next = r.FireTimeAfter(t, next)
		if next.IsZero() || core.PastMaxYear(next) {
			next = time.Time{}
			break
		}
		if next.Before(now) && now.Sub(next) >= threshold {
			next = r.FireTimeAfter(t, next)
		}
	}
	t.NextFireTime = next
	return nil
}

// FireTimeAfter exposes the rule's fire-time arithmetic.
func (e *Evaluator) FireTimeAfter(t *core.Trigger, after time.Time) (time.Time, error) {
	r, err := e.Rule(t)
	if err != nil {
		return time.Time{}, err
	}
	return r.FireTimeAfter(t, after), nil
}

// skipExcluded moves next forward until the calendar includes it.
func skipExcluded(r Rule, t *core.Trigger, cal core.ExclusionCalendar, next time.Time) time.Time {
	for !next.IsZero() && cal != nil && !cal.IsTimeIncluded(next) {
		next = r.FireTimeAfter(t, next)
		if core.PastMaxYear(next) {
			return time.Time{}
		}
	}
	if core.PastMaxYear(next) {
		return time.Time{}
	}
	return next
}
