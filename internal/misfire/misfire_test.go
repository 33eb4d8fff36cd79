package misfire

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/trigger"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	misfired  []string
	finalized []string
}

func (r *recorder) NotifyTriggerListenersMisfired(_ context.Context, t *core.Trigger) {
	r.misfired = append(r.misfired, t.Key.String())
}

func (r *recorder) NotifySchedulerListenersFinalized(_ context.Context, t *core.Trigger) {
	r.finalized = append(r.finalized, t.Key.String())
}

func (r *recorder) NotifySchedulerListenersJobDeleted(context.Context, core.Key) {}
func (r *recorder) SignalSchedulingChange(time.Time)                           {}

func newEvaluator(now time.Time, sig core.SchedulerSignaler) *Evaluator {
	clock := func() time.Time { return now }
	return NewEvaluator(time.Minute, clock, trigger.NewEvaluator(clock), sig, nil)
}

func simpleTrigger(count int, interval time.Duration, next time.Time, instr int) *core.Trigger {
	return &core.Trigger{
		Key:                core.NewKey("g", "t"),
		JobKey:             core.NewKey("g", "j"),
		Type:               core.TriggerSimple,
		Simple:             &core.SimpleSchedule{RepeatCount: count, RepeatInterval: interval},
		MisfireInstruction: instr,
		StartTime:          t0,
		NextFireTime:       next,
		State:              core.StateNormal,
	}
}

func TestApply_NotMisfired(t *testing.T) {
	now := t0.Add(30 * time.Second)
	e := newEvaluator(now, nil)

	tests := []struct {
		name string
		tr   *core.Trigger
	}{
		{"within threshold", simpleTrigger(0, 0, t0, core.MisfireSmartPolicy)},
		{"in the future", simpleTrigger(0, 0, t0.Add(time.Hour), core.MisfireSmartPolicy)},
		{"no next fire time", simpleTrigger(0, 0, time.Time{}, core.MisfireSmartPolicy)},
		{"ignore policy", simpleTrigger(0, 0, t0.Add(-time.Hour), core.MisfireIgnorePolicy)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.tr.NextFireTime
			o, err := e.Apply(tt.tr, nil)
			require.NoError(t, err)
			assert.Equal(t, NotMisfired, o)
			assert.Equal(t, before, tt.tr.NextFireTime)
		})
	}
}

func TestApply_MisfiredWithNext(t *testing.T) {
	now := t0.Add(95 * time.Minute)
	e := newEvaluator(now, nil)

	tr := simpleTrigger(core.RepeatIndefinitely, 30*time.Minute, t0, core.MisfireSmartPolicy)
	o, err := e.Apply(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, MisfiredWithNext, o)
	assert.Equal(t, t0.Add(120*time.Minute), tr.NextFireTime)
}

func TestApply_MisfiredTerminal(t *testing.T) {
	now := t0.Add(3 * time.Hour)
	e := newEvaluator(now, nil)

	tr := simpleTrigger(core.RepeatIndefinitely, time.Hour, t0, core.MisfireSimpleRescheduleNextWithRemainingCount)
	tr.EndTime = t0.Add(2 * time.Hour)
	o, err := e.Apply(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, MisfiredTerminal, o)
	assert.True(t, tr.NextFireTime.IsZero())
}

type frozen struct{ at time.Time }

func (f frozen) FireTimeAfter(*core.Trigger, time.Time) time.Time { return f.at }
func (f frozen) FinalFireTime(*core.Trigger) time.Time            { return f.at }

func TestApply_UnchangedIsNotMisfired(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	clock := func() time.Time { return now }
	rules := trigger.NewEvaluator(clock)
	rules.Opaque().Register("frozen", 1, func([]byte) (trigger.Opaque, error) {
		return frozen{at: t0}, nil
	})
	e := NewEvaluator(time.Minute, clock, rules, nil, nil)

	tr := &core.Trigger{
		Key:                core.NewKey("g", "f"),
		Type:               core.TriggerOpaque,
		Opaque:             &core.OpaqueSchedule{Codec: "frozen", Version: 1},
		MisfireInstruction: core.MisfireCronDoNothing,
		StartTime:          t0,
		NextFireTime:       t0,
	}
	require.True(t, e.Misfired(tr))
	o, err := e.Apply(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, NotMisfired, o)
	assert.Equal(t, t0, tr.NextFireTime)
}

func TestApply_Converges(t *testing.T) {
	now := t0.Add(95 * time.Minute)
	e := newEvaluator(now, nil)

	tr := simpleTrigger(core.RepeatIndefinitely, 30*time.Minute, t0, core.MisfireSimpleFireNow)
	seen := 0
	for range 5 {
		o, err := e.Apply(tr, nil)
		require.NoError(t, err)
		if o == NotMisfired {
			break
		}
		seen++
	}
	assert.Equal(t, 1, seen)
}

func TestApply_InvalidTrigger(t *testing.T) {
	e := newEvaluator(t0.Add(time.Hour), nil)
	tr := &core.Trigger{Key: core.NewKey("g", "x"), Type: "weird", NextFireTime: t0}
	_, err := e.Apply(tr, nil)
	assert.ErrorIs(t, err, core.ErrUnknownType)
}

func TestEvaluate_Notifies(t *testing.T) {
	rec := &recorder{}
	e := newEvaluator(t0.Add(3*time.Hour), rec)

	rescheduled := simpleTrigger(core.RepeatIndefinitely, time.Hour, t0, core.MisfireSmartPolicy)
	rescheduled.Key = core.NewKey("g", "again")
	o, err := e.Evaluate(context.Background(), rescheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, MisfiredWithNext, o)

	spent := simpleTrigger(core.RepeatIndefinitely, time.Hour, t0, core.MisfireSimpleRescheduleNextWithRemainingCount)
	spent.Key = core.NewKey("g", "spent")
	spent.EndTime = t0.Add(2 * time.Hour)
	o, err = e.Evaluate(context.Background(), spent, nil)
	require.NoError(t, err)
	assert.Equal(t, MisfiredTerminal, o)

	onTime := simpleTrigger(0, 0, t0.Add(4*time.Hour), core.MisfireSmartPolicy)
	_, err = e.Evaluate(context.Background(), onTime, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"g:again", "g:spent"}, rec.misfired)
	assert.Equal(t, []string{"g:spent"}, rec.finalized)
}

type counter struct{ n atomic.Int32 }

func (c *counter) NotifyTriggerListenersMisfired(context.Context, *core.Trigger)    { c.n.Add(1) }
func (c *counter) NotifySchedulerListenersFinalized(context.Context, *core.Trigger) {}
func (c *counter) NotifySchedulerListenersJobDeleted(context.Context, core.Key)     {}
func (c *counter) SignalSchedulingChange(time.Time)                                {}

func TestSetSignaler_ConcurrentWithNotify(t *testing.T) {
	e := newEvaluator(t0.Add(3*time.Hour), nil)
	first, second := &counter{}, &counter{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 100 {
			if i%2 == 0 {
				e.SetSignaler(first)
			} else {
				e.SetSignaler(second)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			e.Notify(context.Background(), simpleTrigger(0, 0, t0, core.MisfireSmartPolicy), MisfiredWithNext)
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, first.n.Load()+second.n.Load(), int32(100))
	e.SetSignaler(first)
	before := first.n.Load()
	e.Notify(context.Background(), simpleTrigger(0, 0, t0, core.MisfireSmartPolicy), MisfiredWithNext)
	assert.Equal(t, before+1, first.n.Load())
}

func TestOutcomeString(t *testing.T) {
	if got := MisfiredTerminal.String(); got != "terminal" {
		t.Errorf("String() = %q, want %q", got, "terminal")
	}
	if got := NotMisfired.String(); got != "not_misfired" {
		t.Errorf("String() = %q, want %q", got, "not_misfired")
	}
}
