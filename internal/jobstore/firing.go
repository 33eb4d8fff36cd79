package jobstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
	"github.com/openjobspec/ojs-jobstore-nats/internal/misfire"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

// AcquireNextTriggers leases up to maxCount NORMAL triggers due no later
// than noLaterThan+timeWindow for this instance. Misfired triggers are
// rescheduled first; spent ones are deleted. Losing a lease race skips the
// trigger. Candidates are tried earliest first, then by priority, but the
// order is advisory: a scan is not a snapshot.
func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]*core.Trigger, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	limit := noLaterThan.Add(timeWindow)
	filter := store.Filter{
		store.Eq(codec.AttrState, string(core.StateNormal)),
		store.Le(codec.AttrNext, core.ToMillis(limit)),
	}
	if s.cfg.LockTimeout <= 0 {
		filter = append(filter, store.Ne(codec.AttrLocked, true))
	}

	var candidates []*core.Trigger
	for t, err := range s.ent.ScanTriggers(ctx, filter) {
		if err != nil {
			return nil, err
		}
		if t.Lock.Locked && !s.locks.IsStale(t.Lock.LockedAt) {
			continue
		}
		candidates = append(candidates, t)
	}
	slices.SortStableFunc(candidates, func(a, b *core.Trigger) int {
		return cmp.Or(a.NextFireTime.Compare(b.NextFireTime), cmp.Compare(b.Priority, a.Priority))
	})

	cals := s.newCalendarCache()
	exclusiveJobs := map[core.Key]bool{}
	var acquired []*core.Trigger
	for _, t := range candidates {
		if len(acquired) >= maxCount {
			break
		}
		log := s.logger.With("trigger", t.Key.String())

		_, cal, err := cals.get(ctx, t.CalendarName)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrDecode) || errors.Is(err, core.ErrUnknownType) {
				log.Warn("skipping trigger with unusable calendar", "calendar", t.CalendarName, "error", err)
				metrics.TriggersSkipped.WithLabelValues("calendar").Inc()
				continue
			}
			return s.abandon(ctx, acquired, err)
		}

		due, err := s.resolveMisfire(ctx, t, cal, limit)
		if err != nil {
			return s.abandon(ctx, acquired, err)
		}
		if !due {
			continue
		}

		if exclusiveJobs[t.JobKey] {
			continue
		}

		fireInstance := core.NewUUIDv7()
		expectNext := core.ToMillis(t.NextFireTime)
		ok, err := s.locks.AcquireIf(ctx, s.ent.Triggers, t.Key.String(), s.cfg.InstanceID, func(it codec.Item) error {
			if it.String(codec.AttrState) != string(core.StateNormal) || it.Int(codec.AttrNext) != expectNext {
				return store.ErrPreconditionFailed
			}
			it[codec.AttrInstance] = fireInstance
			return nil
		})
		if err != nil {
			return s.abandon(ctx, acquired, err)
		}
		if !ok {
			log.Debug("lost trigger lease race")
			continue
		}

		job, err := s.ent.Job(ctx, t.JobKey)
		if err == nil && job != nil && job.DisallowConcurrent {
			exclusiveJobs[t.JobKey] = true
		}
		t.Lock = core.Lock{Locked: true, LockedBy: s.cfg.InstanceID, LockedAt: s.now()}
		t.FireInstanceID = fireInstance
		acquired = append(acquired, t)
		metrics.TriggersAcquired.Inc()
	}
	return acquired, nil
}

// resolveMisfire applies the misfire instruction of a candidate and
// persists the result. It reports whether the candidate is still due.
func (s *Store) resolveMisfire(ctx context.Context, t *core.Trigger, cal core.ExclusionCalendar, limit time.Time) (bool, error) {
	probe := t.Clone()
	outcome, err := s.misfires.Apply(probe, cal)
	if err != nil {
		s.logger.Warn("skipping trigger with unusable schedule", "trigger", t.Key.String(), "error", err)
		metrics.TriggersSkipped.WithLabelValues("schedule").Inc()
		return false, nil
	}
	switch outcome {
	case misfire.NotMisfired:
		return true, nil

	case misfire.MisfiredTerminal:
		seenNext := core.ToMillis(t.NextFireTime)
		ok, err := s.ent.Triggers.DeleteIf(ctx, t.Key.String(), func(it codec.Item) bool {
			return it.String(codec.AttrState) == string(core.StateNormal) &&
				!it.Bool(codec.AttrLocked) && it.Int(codec.AttrNext) == seenNext
		})
		if err != nil {
			return false, err
		}
		if ok {
			s.misfires.Notify(ctx, probe, outcome)
			if err := s.removeOrphanedJob(ctx, t.JobKey); err != nil {
				s.logger.Error("failed to remove job of spent trigger", "job", t.JobKey.String(), "error", err)
			}
		}
		return false, nil
	}

	seenNext := t.NextFireTime
	var updated *core.Trigger
	ok, err := s.ent.UpdateTrigger(ctx, t.Key, func(cur *core.Trigger) error {
		if cur.State != core.StateNormal || !cur.NextFireTime.Equal(seenNext) ||
			(cur.Lock.Locked && !s.locks.IsStale(cur.Lock.LockedAt)) {
			return store.ErrPreconditionFailed
		}
		o, err := s.misfires.Apply(cur, cal)
		if err != nil {
			return err
		}
		if o == misfire.MisfiredTerminal {
			cur.State = core.StateComplete
		}
		outcome = o
		updated = cur
		return nil
	})
	if err != nil || !ok {
		return false, err
	}
	s.misfires.Notify(ctx, updated, outcome)
	if updated.State != core.StateNormal || updated.NextFireTime.After(limit) {
		s.signal().SignalSchedulingChange(updated.NextFireTime)
		return false, nil
	}
	*t = *updated
	return true, nil
}

// abandon releases what was acquired before a store failure.
func (s *Store) abandon(ctx context.Context, acquired []*core.Trigger, err error) ([]*core.Trigger, error) {
	for _, t := range acquired {
		if rerr := s.ReleaseAcquiredTrigger(ctx, t); rerr != nil {
			s.logger.Error("failed to release trigger after acquire failure", "trigger", t.Key.String(), "error", rerr)
		}
	}
	return nil, err
}

// ReleaseAcquiredTrigger gives back a trigger acquired by this instance
// without firing it.
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, t *core.Trigger) error {
	_, err := s.locks.ReleaseIfHeldBy(ctx, s.ent.Triggers, t.Key.String(), s.cfg.InstanceID)
	return err
}

// TriggersFired commits the firing of acquired triggers and returns a
// bundle for each one that may run. Triggers that vanished, lost their
// lease or can no longer fire are skipped. The first store failure is
// returned along with the bundles of the triggers that did fire.
func (s *Store) TriggersFired(ctx context.Context, triggers []*core.Trigger) ([]*core.TriggerFiredBundle, error) {
	cals := s.newCalendarCache()
	var bundles []*core.TriggerFiredBundle
	var firstErr error
	for _, t := range triggers {
		b, err := s.fire(ctx, t, cals)
		if err != nil {
			s.logger.Error("failed to fire trigger", "trigger", t.Key.String(), "error", err)
			if rerr := s.ReleaseAcquiredTrigger(ctx, t); rerr != nil {
				s.logger.Error("failed to release trigger", "trigger", t.Key.String(), "error", rerr)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if b != nil {
			bundles = append(bundles, b)
		}
	}
	return bundles, firstErr
}

func (s *Store) fire(ctx context.Context, acquired *core.Trigger, cals *calendarCache) (*core.TriggerFiredBundle, error) {
	me := s.cfg.InstanceID
	log := s.logger.With("trigger", acquired.Key.String())
	skip := func(reason string, release bool) (*core.TriggerFiredBundle, error) {
		metrics.TriggersSkipped.WithLabelValues(reason).Inc()
		if release {
			return nil, s.ReleaseAcquiredTrigger(ctx, acquired)
		}
		return nil, nil
	}

	t, err := s.ent.Trigger(ctx, acquired.Key)
	if err != nil {
		return nil, err
	}
	if t == nil {
		log.Warn("acquired trigger vanished before firing")
		return skip("vanished", false)
	}
	if !t.Lock.HeldBy(me) {
		log.Warn("trigger lease lost before firing", "holder", t.Lock.LockedBy)
		return skip("lease_lost", false)
	}
	if t.State != core.StateNormal {
		log.Debug("trigger no longer normal", "state", t.State)
		return skip("state", true)
	}

	calRec, cal, err := cals.get(ctx, t.CalendarName)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrDecode) || errors.Is(err, core.ErrUnknownType) {
			log.Warn("trigger calendar unusable", "calendar", t.CalendarName, "error", err)
			return skip("calendar", true)
		}
		return nil, err
	}

	job, err := s.ent.Job(ctx, t.JobKey)
	if err != nil {
		return nil, err
	}
	if job == nil || !s.canRun(job) {
		log.Error("trigger job cannot run, marking trigger as ERROR", "job", t.JobKey.String())
		metrics.TriggersSkipped.WithLabelValues("job").Inc()
		return nil, s.markError(ctx, t.Key)
	}

	if job.DisallowConcurrent {
		ok, err := s.locks.Acquire(ctx, s.ent.Jobs, job.Key.String(), me)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug("job already running elsewhere", "job", job.Key.String())
			return skip("job_locked", true)
		}
		job.Lock = core.Lock{Locked: true, LockedBy: me, LockedAt: s.now()}
		s.lockSiblings(ctx, job.Key, t.Key)
	}

	scheduled := t.NextFireTime
	prev := t.PreviousFireTime
	advanced := t.Clone()
	if err := s.rules.Triggered(advanced, cal); err != nil {
		s.abandonJob(ctx, job)
		return nil, err
	}

	var fired *core.Trigger
	ok, err := s.ent.UpdateTrigger(ctx, t.Key, func(cur *core.Trigger) error {
		if !cur.Lock.HeldBy(me) || cur.State != core.StateNormal {
			return store.ErrPreconditionFailed
		}
		cur.StartTime = advanced.StartTime
		cur.NextFireTime = advanced.NextFireTime
		cur.PreviousFireTime = advanced.PreviousFireTime
		cur.FinalFireTime = advanced.FinalFireTime
		cur.Simple = advanced.Simple
		cur.State = core.StateNormal
		if !cur.MayFireAgain() {
			cur.State = core.StateComplete
		}
		cur.Lock = core.Lock{}
		fired = cur
		return nil
	})
	if err != nil {
		s.abandonJob(ctx, job)
		return nil, err
	}
	if !ok {
		log.Warn("trigger changed while firing")
		s.abandonJob(ctx, job)
		return skip("lease_lost", false)
	}
	fired.FireInstanceID = acquired.FireInstanceID
	if fired.State == core.StateComplete {
		s.signal().NotifySchedulerListenersFinalized(ctx, fired)
	}

	metrics.TriggersFired.Inc()
	log.Debug("trigger fired", "job", job.Key.String(), "scheduled", scheduled, "next", fired.NextFireTime)
	return &core.TriggerFiredBundle{
		Job:               job,
		Trigger:           fired,
		Calendar:          calRec,
		Recovering:        false,
		FireTime:          s.now(),
		ScheduledFireTime: scheduled,
		PrevFireTime:      prev,
		NextFireTime:      fired.NextFireTime,
	}, nil
}

func (s *Store) canRun(job *core.JobDetail) bool {
	r := s.jobResolver()
	return r == nil || r.HasJob(job.Class)
}

func (s *Store) markError(ctx context.Context, key core.Key) error {
	_, err := s.ent.UpdateTrigger(ctx, key, func(t *core.Trigger) error {
		t.State = core.StateError
		if t.Lock.HeldBy(s.cfg.InstanceID) {
			t.Lock = core.Lock{}
		}
		return nil
	})
	return err
}

// lockSiblings leases the other triggers of a job that disallows
// concurrent execution. Triggers already leased elsewhere stay as they are.
func (s *Store) lockSiblings(ctx context.Context, jobKey, firing core.Key) {
	triggers, err := s.ent.TriggersForJob(ctx, jobKey)
	if err != nil {
		s.logger.Warn("failed to list job triggers for locking", "job", jobKey.String(), "error", err)
		return
	}
	for _, t := range triggers {
		if t.Key == firing {
			continue
		}
		if _, err := s.locks.Acquire(ctx, s.ent.Triggers, t.Key.String(), s.cfg.InstanceID); err != nil {
			s.logger.Warn("failed to lock job trigger", "job", jobKey.String(), "trigger", t.Key.String(), "error", err)
		}
	}
}

// abandonJob releases the job leases after a failed fire.
func (s *Store) abandonJob(ctx context.Context, job *core.JobDetail) {
	if err := s.releaseJob(ctx, job); err != nil {
		s.logger.Error("failed to release job after firing failure", "job", job.Key.String(), "error", err)
	}
}

// LeaseRenewInterval is how often a running job that disallows concurrent
// execution must renew its leases. Zero means leases never go stale.
func (s *Store) LeaseRenewInterval() time.Duration {
	return s.cfg.LockTimeout / 3
}

// RenewJobLease refreshes the lease on a running job that disallows
// concurrent execution, and on its triggers leased by this instance, so
// that no other instance takes them over as stale. It returns
// core.ErrLeaseLost when this instance no longer holds the job lease.
func (s *Store) RenewJobLease(ctx context.Context, job *core.JobDetail) error {
	if !job.DisallowConcurrent {
		return nil
	}
	me := s.cfg.InstanceID
	ok, err := s.locks.Renew(ctx, s.ent.Jobs, job.Key.String(), me)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %s", core.ErrLeaseLost, job.Key)
	}
	triggers, err := s.ent.TriggersForJob(ctx, job.Key)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if !t.Lock.HeldBy(me) {
			continue
		}
		if _, err := s.locks.Renew(ctx, s.ent.Triggers, t.Key.String(), me); err != nil {
			s.logger.Warn("failed to renew job trigger lease", "job", job.Key.String(), "trigger", t.Key.String(), "error", err)
		}
	}
	return nil
}

// releaseJob releases the job lease and the leases on its triggers held
// by this instance. It is a no-op for jobs that allow concurrency.
func (s *Store) releaseJob(ctx context.Context, job *core.JobDetail) error {
	if !job.DisallowConcurrent {
		return nil
	}
	me := s.cfg.InstanceID
	var firstErr error
	if _, err := s.locks.ReleaseIfHeldBy(ctx, s.ent.Jobs, job.Key.String(), me); err != nil {
		firstErr = err
	}
	triggers, err := s.ent.TriggersForJob(ctx, job.Key)
	if err != nil {
		return cmp.Or(firstErr, err)
	}
	for _, t := range triggers {
		if _, err := s.locks.ReleaseIfHeldBy(ctx, s.ent.Triggers, t.Key.String(), me); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TriggeredJobComplete records the end of a job execution: it persists the
// job's data when asked to, releases the job's leases, and applies the
// completion instruction to the trigger.
func (s *Store) TriggeredJobComplete(ctx context.Context, t *core.Trigger, job *core.JobDetail, instr core.CompletedExecutionInstruction) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if job.PersistData {
		_, err := s.ent.UpdateJob(ctx, job.Key, func(cur *core.JobDetail) error {
			cur.Data = job.Data.Clone()
			return nil
		})
		keep(err)
	}
	if job.DisallowConcurrent {
		keep(s.releaseJob(ctx, job))
		s.signal().SignalSchedulingChange(time.Time{})
	}

	switch instr {
	case core.InstructionDeleteTrigger:
		_, err := s.RemoveTrigger(ctx, t.Key)
		keep(err)
		s.signal().SignalSchedulingChange(time.Time{})
	case core.InstructionSetTriggerComplete:
		keep(s.setState(ctx, t.Key, core.StateComplete))
		s.signal().SignalSchedulingChange(time.Time{})
	case core.InstructionSetTriggerError:
		keep(s.setState(ctx, t.Key, core.StateError))
		s.signal().SignalSchedulingChange(time.Time{})
	case core.InstructionSetAllJobTriggersComplete:
		keep(s.setJobTriggersState(ctx, job.Key, core.StateComplete))
		s.signal().SignalSchedulingChange(time.Time{})
	case core.InstructionSetAllJobTriggersError:
		keep(s.setJobTriggersState(ctx, job.Key, core.StateError))
		s.signal().SignalSchedulingChange(time.Time{})
	}
	return firstErr
}

func (s *Store) setState(ctx context.Context, key core.Key, state core.TriggerState) error {
	_, err := s.ent.UpdateTrigger(ctx, key, func(t *core.Trigger) error {
		if t.State == state {
			return store.ErrNoChange
		}
		t.State = state
		return nil
	})
	return err
}

func (s *Store) setJobTriggersState(ctx context.Context, jobKey core.Key, state core.TriggerState) error {
	triggers, err := s.ent.TriggersForJob(ctx, jobKey)
	if err != nil {
		return err
	}
	var firstErr error
	for _, t := range triggers {
		if err := s.setState(ctx, t.Key, state); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
