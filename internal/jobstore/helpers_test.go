package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu        sync.Mutex
	misfired  []string
	finalized []string
	deleted   []string
	changes   int
}

func (r *recorder) NotifyTriggerListenersMisfired(_ context.Context, t *core.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misfired = append(r.misfired, t.Key.String())
}

func (r *recorder) NotifySchedulerListenersFinalized(_ context.Context, t *core.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, t.Key.String())
}

func (r *recorder) NotifySchedulerListenersJobDeleted(_ context.Context, k core.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, k.String())
}

func (r *recorder) SignalSchedulingChange(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

type classes map[string]bool

func (c classes) HasJob(class string) bool { return c[class] }

// cluster is a set of buckets shared by every store created from it.
type cluster struct {
	t         *testing.T
	clock     *fakeClock
	jobs      *kv.MemoryBucket
	triggers  *kv.MemoryBucket
	calendars *kv.MemoryBucket
}

func newCluster(t *testing.T) *cluster {
	return &cluster{
		t:         t,
		clock:     &fakeClock{now: t0},
		jobs:      kv.NewMemoryBucket("jobs"),
		triggers:  kv.NewMemoryBucket("triggers"),
		calendars: kv.NewMemoryBucket("calendars"),
	}
}

func (c *cluster) node(id string, mutate ...func(*Config)) (*Store, *recorder) {
	c.t.Helper()
	cfg := DefaultConfig()
	cfg.InstanceID = id
	cfg.Clock = c.clock.Now
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, c.jobs, c.triggers, c.calendars, nil)
	require.NoError(c.t, err)
	rec := &recorder{}
	require.NoError(c.t, s.Initialize(context.Background(), nil, rec))
	return s, rec
}

func job(group, name string) *core.JobDetail {
	return &core.JobDetail{Key: core.NewKey(group, name), Class: "report", Durable: true}
}

func hourly(group, name string, jobKey core.Key) *core.Trigger {
	return &core.Trigger{
		Key:       core.NewKey(group, name),
		JobKey:    jobKey,
		Priority:  core.DefaultPriority,
		Type:      core.TriggerSimple,
		Simple:    &core.SimpleSchedule{RepeatCount: core.RepeatIndefinitely, RepeatInterval: time.Hour},
		StartTime: t0,
	}
}

func oneShot(group, name string, jobKey core.Key, at time.Time) *core.Trigger {
	return &core.Trigger{
		Key:       core.NewKey(group, name),
		JobKey:    jobKey,
		Priority:  core.DefaultPriority,
		Type:      core.TriggerSimple,
		Simple:    &core.SimpleSchedule{},
		StartTime: at,
	}
}

func keys(ts []*core.Trigger) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Key.String()
	}
	return out
}
