package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func simpleTrigger(count int, interval time.Duration) *core.Trigger {
	return &core.Trigger{
		Key:       core.NewKey("g", "t"),
		JobKey:    core.NewKey("g", "j"),
		Type:      core.TriggerSimple,
		StartTime: t0,
		Simple:    &core.SimpleSchedule{RepeatCount: count, RepeatInterval: interval},
	}
}

func cronTrigger(expr string) *core.Trigger {
	return &core.Trigger{
		Key:       core.NewKey("g", "c"),
		JobKey:    core.NewKey("g", "j"),
		Type:      core.TriggerCron,
		StartTime: t0,
		Cron:      &core.CronSchedule{Expression: expr},
	}
}

// excludeHours rejects times whose hour is in the set.
type excludeHours map[int]bool

func (e excludeHours) IsTimeIncluded(t time.Time) bool { return !e[t.Hour()] }
func (e excludeHours) NextIncludedTime(t time.Time) time.Time {
	for t = t.Add(time.Hour).Truncate(time.Hour); !e.IsTimeIncluded(t); t = t.Add(time.Hour) {
	}
	return t
}

func TestSimple_FireSequence(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(2, 10*time.Minute)

	next, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, t0, next)
	assert.Equal(t, t0.Add(20*time.Minute), tr.FinalFireTime)

	var fired []time.Time
	for tr.MayFireAgain() {
		fired = append(fired, tr.NextFireTime)
		require.NoError(t, e.Triggered(tr, nil))
	}
	assert.Equal(t, []time.Time{t0, t0.Add(10 * time.Minute), t0.Add(20 * time.Minute)}, fired)
	assert.Equal(t, 3, tr.Simple.TimesTriggered)
	assert.Equal(t, t0.Add(20*time.Minute), tr.PreviousFireTime)
}

func TestSimple_OneShot(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(0, 0)
	_, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, t0, tr.NextFireTime)
	require.NoError(t, e.Triggered(tr, nil))
	assert.False(t, tr.MayFireAgain())
}

func TestSimple_EndTime(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(core.RepeatIndefinitely, time.Hour)
	tr.EndTime = t0.Add(150 * time.Minute)
	_, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), tr.FinalFireTime)

	n := 0
	for tr.MayFireAgain() {
		n++
		require.NoError(t, e.Triggered(tr, nil))
	}
	assert.Equal(t, 3, n)
}

func TestSimple_CalendarSkips(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(core.RepeatIndefinitely, time.Hour)
	cal := excludeHours{9: true, 10: true}

	_, err := e.ComputeFirstFireTime(tr, cal)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), tr.NextFireTime)

	require.NoError(t, e.Triggered(tr, cal))
	assert.Equal(t, t0.Add(3*time.Hour), tr.NextFireTime)
}

func TestSimple_MisfireSmartPolicy(t *testing.T) {
	now := t0.Add(95 * time.Minute)
	e := NewEvaluator(fixed(now))

	t.Run("one shot fires now", func(t *testing.T) {
		tr := simpleTrigger(0, 0)
		tr.NextFireTime = t0
		require.NoError(t, e.UpdateAfterMisfire(tr, nil))
		assert.Equal(t, now, tr.NextFireTime)
	})

	t.Run("indefinite reschedules next with remaining count", func(t *testing.T) {
		tr := simpleTrigger(core.RepeatIndefinitely, 30*time.Minute)
		tr.NextFireTime = t0
		require.NoError(t, e.UpdateAfterMisfire(tr, nil))
		assert.Equal(t, t0.Add(2*time.Hour), tr.NextFireTime)
		assert.Equal(t, 4, tr.Simple.TimesTriggered)
	})

	t.Run("bounded reschedules now with existing count", func(t *testing.T) {
		tr := simpleTrigger(5, 30*time.Minute)
		tr.Simple.TimesTriggered = 2
		tr.NextFireTime = t0.Add(time.Hour)
		require.NoError(t, e.UpdateAfterMisfire(tr, nil))
		assert.Equal(t, now, tr.NextFireTime)
		assert.Equal(t, now, tr.StartTime)
		assert.Equal(t, 3, tr.Simple.RepeatCount)
		assert.Equal(t, 0, tr.Simple.TimesTriggered)
	})
}

func TestSimple_MisfireRescheduleNowWithRemainingCount(t *testing.T) {
	now := t0.Add(95 * time.Minute)
	e := NewEvaluator(fixed(now))
	tr := simpleTrigger(10, 30*time.Minute)
	tr.MisfireInstruction = core.MisfireSimpleRescheduleNowWithRemainingCount
	tr.Simple.TimesTriggered = 1
	tr.NextFireTime = t0.Add(30 * time.Minute)

	require.NoError(t, e.UpdateAfterMisfire(tr, nil))
	// 65 minutes missed at a 30 minute interval is 2 missed fires.
	assert.Equal(t, 7, tr.Simple.RepeatCount)
	assert.Equal(t, now, tr.NextFireTime)
}

func TestSimple_MisfireRescheduleNowPastEnd(t *testing.T) {
	now := t0.Add(3 * time.Hour)
	e := NewEvaluator(fixed(now))
	tr := simpleTrigger(5, time.Hour)
	tr.EndTime = t0.Add(2 * time.Hour)
	tr.MisfireInstruction = core.MisfireSimpleRescheduleNowWithExistingCount
	tr.NextFireTime = t0

	require.NoError(t, e.UpdateAfterMisfire(tr, nil))
	assert.True(t, tr.NextFireTime.IsZero())
}

func TestMisfireIgnorePolicy(t *testing.T) {
	e := NewEvaluator(fixed(t0.Add(time.Hour)))
	tr := simpleTrigger(5, time.Minute)
	tr.MisfireInstruction = core.MisfireIgnorePolicy
	tr.NextFireTime = t0
	require.NoError(t, e.UpdateAfterMisfire(tr, nil))
	assert.Equal(t, t0, tr.NextFireTime)
}

func TestCron_FireTimes(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := cronTrigger("0 */15 * * * ?")
	next, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, t0, next, "a start time on the schedule is the first fire time")

	require.NoError(t, e.Triggered(tr, nil))
	assert.Equal(t, t0.Add(15*time.Minute), tr.NextFireTime)
	assert.Equal(t, t0, tr.PreviousFireTime)
}

func TestCron_FiveFieldsAndTimeZone(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := cronTrigger("30 9 * * *")
	tr.Cron.TimeZone = "America/New_York"
	_, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)

	ny, _ := time.LoadLocation("America/New_York")
	got := tr.NextFireTime.In(ny)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, time.UTC, tr.NextFireTime.Location())
}

func TestCron_EndTime(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := cronTrigger("@hourly")
	tr.EndTime = t0.Add(90 * time.Minute)
	_, err := e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	require.NoError(t, e.Triggered(tr, nil))
	require.NoError(t, e.Triggered(tr, nil))
	assert.False(t, tr.MayFireAgain())
}

func TestCron_Misfire(t *testing.T) {
	now := t0.Add(40 * time.Minute)
	e := NewEvaluator(fixed(now))

	tr := cronTrigger("0 0 * * * ?")
	tr.NextFireTime = t0
	require.NoError(t, e.UpdateAfterMisfire(tr, nil))
	assert.Equal(t, now, tr.NextFireTime, "smart policy fires once now")

	tr = cronTrigger("0 0 * * * ?")
	tr.MisfireInstruction = core.MisfireCronDoNothing
	tr.NextFireTime = t0
	require.NoError(t, e.UpdateAfterMisfire(tr, nil))
	assert.Equal(t, t0.Add(time.Hour), tr.NextFireTime)
}

func TestCron_Invalid(t *testing.T) {
	e := NewEvaluator(nil)
	for _, tr := range []*core.Trigger{
		cronTrigger("not a cron"),
		cronTrigger(""),
		func() *core.Trigger { tr := cronTrigger("@daily"); tr.Cron.TimeZone = "Mars/Olympus"; return tr }(),
	} {
		err := e.Validate(tr)
		assert.True(t, errors.Is(err, core.ErrInvalidTrigger), "Validate(%q) = %v", tr.Cron.Expression, err)
	}
}

func TestCalendarInterval(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	blob, err := NewCalendarIntervalBlob(UnitMonth, 1, "")
	require.NoError(t, err)
	tr := &core.Trigger{
		Key: core.NewKey("g", "m"), JobKey: core.NewKey("g", "j"),
		Type:      core.TriggerOpaque,
		StartTime: t0,
		EndTime:   t0.AddDate(0, 5, 1),
		Opaque:    &core.OpaqueSchedule{Codec: CalendarIntervalCodec, Version: 1, Blob: blob},
	}
	_, err = e.ComputeFirstFireTime(tr, nil)
	require.NoError(t, err)
	assert.Equal(t, t0, tr.NextFireTime)
	assert.Equal(t, t0.AddDate(0, 5, 0), tr.FinalFireTime)

	require.NoError(t, e.Triggered(tr, nil))
	assert.Equal(t, t0.AddDate(0, 1, 0), tr.NextFireTime)

	next, err := e.FireTimeAfter(tr, t0.AddDate(0, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 4, 0), next)
}

func TestCalendarInterval_DaysKeepLocalTime(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	blob, err := NewCalendarIntervalBlob(UnitDay, 1, "Europe/Berlin")
	require.NoError(t, err)
	berlin, _ := time.LoadLocation("Europe/Berlin")
	start := time.Date(2026, 3, 27, 8, 0, 0, 0, berlin).UTC()
	tr := &core.Trigger{
		Key: core.NewKey("g", "d"), JobKey: core.NewKey("g", "j"),
		Type: core.TriggerOpaque, StartTime: start,
		Opaque: &core.OpaqueSchedule{Codec: CalendarIntervalCodec, Version: 1, Blob: blob},
	}
	// The clocks move forward on 2026-03-29.
	next, err := e.FireTimeAfter(tr, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 8, next.In(berlin).Hour())
	assert.Equal(t, 30, next.In(berlin).Day())
}

func TestOpaque_UnknownCodec(t *testing.T) {
	e := NewEvaluator(nil)
	tr := &core.Trigger{Type: core.TriggerOpaque, Opaque: &core.OpaqueSchedule{Codec: "lunar", Version: 1}}
	assert.ErrorIs(t, e.Validate(tr), core.ErrUnknownType)

	blob, _ := NewCalendarIntervalBlob(UnitDay, 1, "")
	tr.Opaque = &core.OpaqueSchedule{Codec: CalendarIntervalCodec, Version: 2, Blob: blob}
	assert.ErrorIs(t, e.Validate(tr), core.ErrUnknownType)

	_, err := NewCalendarIntervalBlob("fortnight", 1, "")
	assert.Error(t, err)
}

func TestUpdateWithNewCalendar(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(core.RepeatIndefinitely, time.Hour)
	tr.PreviousFireTime = t0
	tr.NextFireTime = t0.Add(time.Hour)

	require.NoError(t, e.UpdateWithNewCalendar(tr, excludeHours{10: true, 11: true}, time.Minute))
	assert.Equal(t, t0.Add(3*time.Hour), tr.NextFireTime)
}

func TestGiveUpAfterMaxYear(t *testing.T) {
	e := NewEvaluator(fixed(t0))
	tr := simpleTrigger(core.RepeatIndefinitely, time.Hour)
	nothing := excludeHours{}
	for h := 0; h < 24; h++ {
		nothing[h] = true
	}
	tr.Simple.RepeatInterval = 24 * 365 * time.Hour
	next, err := e.ComputeFirstFireTime(tr, nothing)
	require.NoError(t, err)
	assert.True(t, next.IsZero())
}
