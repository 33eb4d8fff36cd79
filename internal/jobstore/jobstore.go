// Package jobstore implements core.JobStore on three key-value buckets.
// Scheduler instances sharing the buckets coordinate only through
// per-record compare-and-swap: there are no cross-record transactions, so
// multi-record operations are best-effort fan-outs.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/calendar"
	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
	"github.com/openjobspec/ojs-jobstore-nats/internal/lock"
	"github.com/openjobspec/ojs-jobstore-nats/internal/misfire"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
	"github.com/openjobspec/ojs-jobstore-nats/internal/trigger"
)

// Collection names, used in metrics and logs.
const (
	JobsCollection      = "jobs"
	TriggersCollection  = "triggers"
	CalendarsCollection = "calendars"
)

// Store is a job store backed by key-value buckets.
type Store struct {
	cfg       Config
	ent       *store.Entities
	locks     *lock.Manager
	rules     *trigger.Evaluator
	calendars *calendar.Registry
	misfires  *misfire.Evaluator
	logger    *slog.Logger

	mu       sync.RWMutex
	resolver core.JobResolver
	signaler core.SchedulerSignaler
}

var _ core.JobStore = (*Store)(nil)

// New creates a store over the given buckets.
func New(cfg Config, jobs, triggers, calendars kv.Bucket, logger *slog.Logger) (*Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobstore", "instance_id", cfg.InstanceID)

	rules := trigger.NewEvaluator(cfg.Clock)
	cals := calendar.NewRegistry()
	cdc := &codec.Codec{Opaque: rules.Opaque(), Calendars: cals}
	opts := store.Options{CASRetries: cfg.CASRetries, Logger: logger}

	s := &Store{
		cfg: cfg,
		ent: store.NewEntities(
			store.NewCollection(JobsCollection, jobs, opts),
			store.NewCollection(TriggersCollection, triggers, opts),
			store.NewCollection(CalendarsCollection, calendars, opts),
			cdc, cfg.ScanPageSize, logger),
		locks:     lock.NewManager(cfg.LockTimeout, cfg.Clock, logger),
		rules:     rules,
		calendars: cals,
		signaler:  noopSignaler{},
		logger:    logger,
	}
	s.misfires = misfire.NewEvaluator(cfg.MisfireThreshold, cfg.Clock, rules, s.signaler, logger)
	return s, nil
}

// InstanceID returns the lease holder id of this store.
func (s *Store) InstanceID() string { return s.cfg.InstanceID }

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Rules returns the trigger evaluator, where opaque trigger codecs are
// registered.
func (s *Store) Rules() *trigger.Evaluator { return s.rules }

// Calendars returns the calendar rule registry.
func (s *Store) Calendars() *calendar.Registry { return s.calendars }

func (s *Store) now() time.Time { return s.cfg.Clock() }

func (s *Store) signal() core.SchedulerSignaler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signaler
}

func (s *Store) jobResolver() core.JobResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver
}

// Initialize binds the loader context and the notification target.
func (s *Store) Initialize(_ context.Context, resolver core.JobResolver, signaler core.SchedulerSignaler) error {
	if signaler == nil {
		signaler = noopSignaler{}
	}
	s.mu.Lock()
	s.resolver = resolver
	s.signaler = signaler
	s.mu.Unlock()
	s.misfires.SetSignaler(signaler)
	s.logger.Info("job store initialized", "instance_name", s.cfg.InstanceName,
		"clustered", s.cfg.Clustered, "misfire_threshold", s.cfg.MisfireThreshold,
		"lock_timeout", s.cfg.LockTimeout)
	return nil
}

// SchedulerStarted recovers from a previous run of this instance. A
// non-clustered store owns every lease carrying its instance id, so
// leftovers are released. Clustered stores rely on lease staleness.
func (s *Store) SchedulerStarted(ctx context.Context) error {
	if s.cfg.Clustered {
		return nil
	}
	var firstErr error
	released := 0
	for _, c := range []*store.Collection{s.ent.Jobs, s.ent.Triggers} {
		filter := store.Filter{store.Eq(codec.AttrLocked, true), store.Eq(codec.AttrLockedBy, s.cfg.InstanceID)}
		for r, err := range c.All(ctx, filter, s.cfg.ScanPageSize) {
			if err != nil {
				return err
			}
			ok, err := s.locks.ReleaseIfHeldBy(ctx, c, r.Key, s.cfg.InstanceID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				released++
			}
		}
	}
	if released > 0 {
		s.logger.Info("released leases left by a previous run", "count", released)
	}
	return firstErr
}

func (s *Store) SchedulerPaused(context.Context) {
	s.logger.Info("scheduler paused")
}

func (s *Store) SchedulerResumed(context.Context) {
	s.logger.Info("scheduler resumed")
}

// Shutdown releases nothing: leases held by a stopped instance expire
// through LockTimeout or are released by SchedulerStarted.
func (s *Store) Shutdown(context.Context) {
	s.logger.Info("job store shut down")
}

func (s *Store) SupportsPersistence() bool { return true }

func (s *Store) IsClustered() bool { return s.cfg.Clustered }

func (s *Store) EstimatedTimeToReleaseAndAcquireTrigger() time.Duration {
	return s.cfg.TriggerEstimate
}

// ClearAllSchedulingData deletes every trigger, job and calendar.
func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	var firstErr error
	for _, c := range []*store.Collection{s.ent.Triggers, s.ent.Jobs, s.ent.Calendars} {
		n, err := c.Clear(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		s.logger.Info("cleared collection", "collection", c.Name(), "removed", n)
	}
	return firstErr
}

// Counts returns the size of each collection.
func (s *Store) Counts(ctx context.Context) (core.Counts, error) {
	var c core.Counts
	var err error
	if c.Jobs, err = s.ent.Jobs.Count(ctx); err != nil {
		return c, err
	}
	if c.Triggers, err = s.ent.Triggers.Count(ctx); err != nil {
		return c, err
	}
	c.Calendars, err = s.ent.Calendars.Count(ctx)
	return c, err
}

// UnlockTrigger clears the lease on a trigger whoever holds it.
func (s *Store) UnlockTrigger(ctx context.Context, key core.Key) (bool, error) {
	ok, err := s.locks.Release(ctx, s.ent.Triggers, key.String())
	if ok {
		s.logger.Warn("trigger lease force-released", "trigger", key.String())
	}
	return ok, err
}

// UnlockJob clears the lease on a job whoever holds it.
func (s *Store) UnlockJob(ctx context.Context, key core.Key) (bool, error) {
	ok, err := s.locks.Release(ctx, s.ent.Jobs, key.String())
	if ok {
		s.logger.Warn("job lease force-released", "job", key.String())
	}
	return ok, err
}

// loadCalendar returns the stored calendar and its evaluated form. A
// missing calendar is core.ErrNotFound.
func (s *Store) loadCalendar(ctx context.Context, name string) (*core.Calendar, core.ExclusionCalendar, error) {
	rec, err := s.ent.Calendar(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("%w: calendar %q", core.ErrNotFound, name)
	}
	cal, err := s.calendars.Compile(ctx, rec, s.ent.Calendar)
	if err != nil {
		return nil, nil, err
	}
	return rec, cal, nil
}

// calendarCache memoizes calendar loads within one operation.
type calendarCache struct {
	s     *Store
	byKey map[string]cachedCalendar
}

type cachedCalendar struct {
	rec *core.Calendar
	cal core.ExclusionCalendar
	err error
}

func (s *Store) newCalendarCache() *calendarCache {
	return &calendarCache{s: s, byKey: map[string]cachedCalendar{}}
}

func (c *calendarCache) get(ctx context.Context, name string) (*core.Calendar, core.ExclusionCalendar, error) {
	if name == "" {
		return nil, nil, nil
	}
	if hit, ok := c.byKey[name]; ok {
		return hit.rec, hit.cal, hit.err
	}
	rec, cal, err := c.s.loadCalendar(ctx, name)
	var pe *core.PersistenceError
	if !errors.As(err, &pe) {
		c.byKey[name] = cachedCalendar{rec, cal, err}
	}
	return rec, cal, err
}

type noopSignaler struct{}

func (noopSignaler) NotifyTriggerListenersMisfired(context.Context, *core.Trigger)    {}
func (noopSignaler) NotifySchedulerListenersFinalized(context.Context, *core.Trigger) {}
func (noopSignaler) NotifySchedulerListenersJobDeleted(context.Context, core.Key)     {}
func (noopSignaler) SignalSchedulingChange(time.Time)                                 {}
