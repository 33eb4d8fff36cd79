package trigger

import (
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// stepRule is the rule of triggers that fire on a sequence of computed
// instants: cron and opaque types. Its misfire instructions are "fire once
// now" and "do nothing".
type stepRule struct {
	steps Opaque
	smart int
}

func (r *stepRule) FireTimeAfter(t *core.Trigger, after time.Time) time.Time {
	return r.steps.FireTimeAfter(t, after)
}

func (r *stepRule) FinalFireTime(t *core.Trigger) time.Time {
	return r.steps.FinalFireTime(t)
}

func (r *stepRule) Triggered(t *core.Trigger, cal core.ExclusionCalendar) {
	t.PreviousFireTime = t.NextFireTime
	t.NextFireTime = skipExcluded(r, t, cal, r.FireTimeAfter(t, t.NextFireTime))
}

func (r *stepRule) ApplyMisfire(t *core.Trigger, cal core.ExclusionCalendar, now time.Time) {
	instr := t.MisfireInstruction
	if instr == core.MisfireSmartPolicy {
		instr = r.smart
	}
	switch instr {
	case core.MisfireCronFireOnceNow:
		t.NextFireTime = now
	case core.MisfireCronDoNothing:
		t.NextFireTime = skipExcluded(r, t, cal, r.FireTimeAfter(t, now))
	}
}
