package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-jobstore-nats/internal/api"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/jobstore"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	cfg := jobstore.DefaultConfig()
	cfg.InstanceID = "admin"
	cfg.Clock = func() time.Time { return t0 }
	s, err := jobstore.New(cfg, kv.NewMemoryBucket("jobs"), kv.NewMemoryBucket("triggers"), kv.NewMemoryBucket("calendars"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background(), nil, nil))

	job := &core.JobDetail{Key: core.NewKey("reports", "daily"), Class: "report", Durable: true}
	trig := &core.Trigger{
		Key:       core.NewKey("reports", "hourly"),
		JobKey:    job.Key,
		Type:      core.TriggerSimple,
		Simple:    &core.SimpleSchedule{RepeatCount: core.RepeatIndefinitely, RepeatInterval: time.Hour},
		StartTime: t0.Add(time.Hour),
	}
	require.NoError(t, s.StoreJobAndTrigger(context.Background(), job, trig))
	return s
}

func run(t *testing.T, s api.Store, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	open := func(context.Context) (api.Store, func(), error) { return s, func() {}, nil }
	output := func(cmd *cobra.Command, jsonMode bool) *Output {
		return NewOutput(jsonMode, &stdout, &stderr)
	}
	root := NewRootCmd(open, output)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCounts(t *testing.T) {
	s := newStore(t)

	out, _, err := run(t, s, "counts")
	require.NoError(t, err)
	assert.Contains(t, out, "JOBS")
	assert.Contains(t, out, "1")

	out, _, err = run(t, s, "--json", "counts")
	require.NoError(t, err)
	var c core.Counts
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, core.Counts{Jobs: 1, Triggers: 1}, c)
}

func TestPauseResumeTrigger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	out, _, err := run(t, s, "pause", "trigger", "reports:hourly")
	require.NoError(t, err)
	assert.Contains(t, out, "true")

	state, err := s.TriggerState(ctx, core.NewKey("reports", "hourly"))
	require.NoError(t, err)
	assert.Equal(t, core.StatePaused, state)

	_, _, err = run(t, s, "resume", "job", "reports:daily")
	require.NoError(t, err)
	state, err = s.TriggerState(ctx, core.NewKey("reports", "hourly"))
	require.NoError(t, err)
	assert.Equal(t, core.StateNormal, state)
}

func TestUnlockTrigger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	acquired, err := s.AcquireNextTriggers(ctx, t0.Add(2*time.Hour), 1, 0)
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	out, _, err := run(t, s, "--json", "unlock", "trigger", "reports:hourly")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["changed"])

	got, err := s.RetrieveTrigger(ctx, core.NewKey("reports", "hourly"))
	require.NoError(t, err)
	assert.False(t, got.Lock.Locked)
}

func TestTriggersList(t *testing.T) {
	s := newStore(t)

	out, _, err := run(t, s, "triggers", "--group", "reports")
	require.NoError(t, err)
	assert.Contains(t, out, "reports:hourly")
	assert.Contains(t, out, "2026-03-02T10:00:00Z")

	out, _, err = run(t, s, "triggers", "--group", "ops")
	require.NoError(t, err)
	assert.NotContains(t, out, "reports:hourly")
}

func TestClearRequiresConfirmation(t *testing.T) {
	s := newStore(t)

	_, _, err := run(t, s, "clear")
	require.Error(t, err)

	_, stderr, err := run(t, s, "clear", "--yes")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stderr, "cleared"))

	n, err := s.NumberOfJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadKey(t *testing.T) {
	_, _, err := run(t, newStore(t), "pause", "trigger", "reports:")
	require.ErrorIs(t, err, core.ErrInvalidKey)
}
