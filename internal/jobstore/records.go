package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

// StoreJobAndTrigger stores a new job and its first trigger. The job is
// removed again if the trigger cannot be stored.
func (s *Store) StoreJobAndTrigger(ctx context.Context, job *core.JobDetail, t *core.Trigger) error {
	if err := s.StoreJob(ctx, job, false); err != nil {
		return err
	}
	if err := s.StoreTrigger(ctx, t, false); err != nil {
		if _, derr := s.ent.Jobs.Delete(ctx, job.Key.String(), store.ExpectAny); derr != nil {
			s.logger.Error("failed to roll back job after trigger store failure",
				"job", job.Key.String(), "error", derr)
		}
		return err
	}
	return nil
}

// StoreJob stores a job. Replacing a job keeps its paused flag and lease.
func (s *Store) StoreJob(ctx context.Context, job *core.JobDetail, replace bool) error {
	if err := job.Key.Validate(); err != nil {
		return err
	}
	j := job.Clone()
	j.Lock = core.Lock{}
	j.Paused = false

	if replace {
		ok, err := s.ent.UpdateJob(ctx, j.Key, func(cur *core.JobDetail) error {
			paused, lease := cur.Paused, cur.Lock
			*cur = *j.Clone()
			cur.Paused, cur.Lock = paused, lease
			return nil
		})
		if err != nil || ok {
			return err
		}
	}
	_, err := s.ent.PutJob(ctx, j, store.ExpectAbsent)
	return err
}

// StoreJobsAndTriggers stores jobs with their triggers. Without replace
// nothing is written if any of the jobs or triggers already exists.
func (s *Store) StoreJobsAndTriggers(ctx context.Context, jobs []core.JobWithTriggers, replace bool) error {
	if !replace {
		for _, jt := range jobs {
			if ok, err := s.ent.Jobs.Exists(ctx, jt.Job.Key.String()); err != nil {
				return err
			} else if ok {
				return &core.ObjectAlreadyExistsError{Kind: JobsCollection, Key: jt.Job.Key.String()}
			}
			for _, t := range jt.Triggers {
				if ok, err := s.ent.Triggers.Exists(ctx, t.Key.String()); err != nil {
					return err
				} else if ok {
					return &core.ObjectAlreadyExistsError{Kind: TriggersCollection, Key: t.Key.String()}
				}
			}
		}
	}
	for _, jt := range jobs {
		if err := s.StoreJob(ctx, jt.Job, replace); err != nil {
			return err
		}
		for _, t := range jt.Triggers {
			if t.JobKey.IsZero() {
				t = t.Clone()
				t.JobKey = jt.Job.Key
			}
			if err := s.StoreTrigger(ctx, t, replace); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveJob removes a job and every trigger that references it. It reports
// whether anything was removed.
func (s *Store) RemoveJob(ctx context.Context, key core.Key) (bool, error) {
	triggers, err := s.ent.TriggersForJob(ctx, key)
	if err != nil {
		return false, err
	}
	found := false
	var firstErr error
	for _, t := range triggers {
		ok, err := s.ent.Triggers.Delete(ctx, t.Key.String(), store.ExpectPresent)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		found = found || ok
	}
	if firstErr != nil {
		return found, firstErr
	}

	ok, err := s.ent.Jobs.Delete(ctx, key.String(), store.ExpectPresent)
	if err != nil {
		return found, err
	}
	if ok {
		s.logger.Debug("job removed", "job", key.String(), "triggers", len(triggers))
		s.signal().NotifySchedulerListenersJobDeleted(ctx, key)
	}
	return found || ok, nil
}

// RemoveJobs removes each job. It reports whether all of them existed.
func (s *Store) RemoveJobs(ctx context.Context, keys []core.Key) (bool, error) {
	all := true
	var firstErr error
	for _, k := range keys {
		ok, err := s.RemoveJob(ctx, k)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		all = all && ok
	}
	return all, firstErr
}

// RetrieveJob returns the job, or nil when absent.
func (s *Store) RetrieveJob(ctx context.Context, key core.Key) (*core.JobDetail, error) {
	return s.ent.Job(ctx, key)
}

func (s *Store) CheckJobExists(ctx context.Context, key core.Key) (bool, error) {
	return s.ent.Jobs.Exists(ctx, key.String())
}

// StoreTrigger stores a trigger. Its job and calendar must exist. A
// trigger without computed fire times gets its first fire time here, and a
// trigger of a paused job is stored paused.
func (s *Store) StoreTrigger(ctx context.Context, trigger *core.Trigger, replace bool) error {
	if err := trigger.Key.Validate(); err != nil {
		return err
	}
	if err := trigger.JobKey.Validate(); err != nil {
		return fmt.Errorf("trigger %s job key: %w", trigger.Key, err)
	}
	t := trigger.Clone()

	job, err := s.ent.Job(ctx, t.JobKey)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s (trigger %s)", core.ErrJobNotFound, t.JobKey, t.Key)
	}
	var cal core.ExclusionCalendar
	if t.CalendarName != "" {
		if _, cal, err = s.loadCalendar(ctx, t.CalendarName); err != nil {
			return fmt.Errorf("trigger %s: %w", t.Key, err)
		}
	}
	if err := s.rules.Validate(t); err != nil {
		return err
	}
	if t.NextFireTime.IsZero() && t.PreviousFireTime.IsZero() {
		next, err := s.rules.ComputeFirstFireTime(t, cal)
		if err != nil {
			return err
		}
		if next.IsZero() {
			return fmt.Errorf("%w: trigger %s will never fire", core.ErrInvalidTrigger, t.Key)
		}
	}

	t.State = core.StateNormal
	if job.Paused {
		t.State = core.StatePaused
	}
	t.Lock = core.Lock{}
	t.FireInstanceID = ""

	expect := store.ExpectAbsent
	if replace {
		if old, err := s.ent.Trigger(ctx, t.Key); err != nil {
			return err
		} else if old != nil && old.State == core.StatePaused {
			t.State = core.StatePaused
		}
		expect = store.ExpectAny
	}
	if _, err := s.ent.PutTrigger(ctx, t, expect); err != nil {
		return err
	}
	if t.State == core.StateNormal {
		s.signal().SignalSchedulingChange(t.NextFireTime)
	}
	return nil
}

// RemoveTrigger removes a trigger, and its job too when the job is not
// durable and this was its last trigger.
func (s *Store) RemoveTrigger(ctx context.Context, key core.Key) (bool, error) {
	t, err := s.ent.Trigger(ctx, key)
	if err != nil || t == nil {
		return false, err
	}
	ok, err := s.ent.Triggers.Delete(ctx, key.String(), store.ExpectPresent)
	if err != nil || !ok {
		return false, err
	}
	if err := s.removeOrphanedJob(ctx, t.JobKey); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) removeOrphanedJob(ctx context.Context, jobKey core.Key) error {
	job, err := s.ent.Job(ctx, jobKey)
	if err != nil || job == nil || job.Durable {
		return err
	}
	remaining, err := s.ent.TriggersForJob(ctx, jobKey)
	if err != nil || len(remaining) > 0 {
		return err
	}
	ok, err := s.ent.Jobs.DeleteIf(ctx, jobKey.String(), func(it codec.Item) bool {
		return !it.Bool(codec.AttrDurable)
	})
	if err != nil {
		return err
	}
	if ok {
		s.logger.Debug("removed job without triggers", "job", jobKey.String())
		s.signal().NotifySchedulerListenersJobDeleted(ctx, jobKey)
	}
	return nil
}

// RemoveTriggers removes each trigger. It reports whether all of them
// existed.
func (s *Store) RemoveTriggers(ctx context.Context, keys []core.Key) (bool, error) {
	all := true
	var firstErr error
	for _, k := range keys {
		ok, err := s.RemoveTrigger(ctx, k)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		all = all && ok
	}
	return all, firstErr
}

// ReplaceTrigger swaps the trigger at key for t, which must belong to the
// same job. The job is never removed in between. It returns false when no
// trigger exists at key.
func (s *Store) ReplaceTrigger(ctx context.Context, key core.Key, t *core.Trigger) (bool, error) {
	old, err := s.ent.Trigger(ctx, key)
	if err != nil || old == nil {
		return false, err
	}
	nt := t.Clone()
	if nt.JobKey.IsZero() {
		nt.JobKey = old.JobKey
	} else if nt.JobKey != old.JobKey {
		return false, fmt.Errorf("%w: trigger %s belongs to job %s, not %s",
			core.ErrInvalidTrigger, key, old.JobKey, nt.JobKey)
	}
	ok, err := s.ent.Triggers.Delete(ctx, key.String(), store.ExpectPresent)
	if err != nil || !ok {
		return false, err
	}
	if err := s.StoreTrigger(ctx, nt, false); err != nil {
		if _, rerr := s.ent.PutTrigger(ctx, old, store.ExpectAbsent); rerr != nil && !errors.Is(rerr, core.ErrAlreadyExists) {
			s.logger.Error("failed to restore replaced trigger", "trigger", key.String(), "error", rerr)
		}
		return false, err
	}
	return true, nil
}

// RetrieveTrigger returns the trigger, or nil when absent.
func (s *Store) RetrieveTrigger(ctx context.Context, key core.Key) (*core.Trigger, error) {
	return s.ent.Trigger(ctx, key)
}

func (s *Store) CheckTriggerExists(ctx context.Context, key core.Key) (bool, error) {
	return s.ent.Triggers.Exists(ctx, key.String())
}

// TriggerState returns the state of the trigger, NONE when absent.
func (s *Store) TriggerState(ctx context.Context, key core.Key) (core.TriggerState, error) {
	t, err := s.ent.Trigger(ctx, key)
	if err != nil || t == nil {
		return core.StateNone, err
	}
	return t.State, nil
}

// StoreCalendar stores a calendar after checking that it and its base
// chain decode. With updateTriggers every trigger using the calendar gets
// its next fire time recomputed.
func (s *Store) StoreCalendar(ctx context.Context, cal *core.Calendar, replace, updateTriggers bool) error {
	if cal.Name == "" {
		return fmt.Errorf("%w: calendar name is required", core.ErrInvalidKey)
	}
	c := cal.Clone()
	compiled, err := s.calendars.Compile(ctx, c, s.ent.Calendar)
	if err != nil {
		return err
	}
	expect := store.ExpectAbsent
	if replace {
		expect = store.ExpectAny
	}
	if _, err := s.ent.PutCalendar(ctx, c, expect); err != nil {
		return err
	}
	if !replace || !updateTriggers {
		return nil
	}

	var firstErr error
	for t, err := range s.ent.ScanTriggers(ctx, store.Filter{store.Eq(codec.AttrCalendar, c.Name)}) {
		if err != nil {
			return err
		}
		_, err := s.ent.UpdateTrigger(ctx, t.Key, func(cur *core.Trigger) error {
			if cur.CalendarName != c.Name || cur.State.IsTerminal() {
				return store.ErrNoChange
			}
			if err := s.rules.UpdateWithNewCalendar(cur, compiled, s.cfg.MisfireThreshold); err != nil {
				return err
			}
			if cur.NextFireTime.IsZero() {
				cur.State = core.StateComplete
			}
			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.signal().SignalSchedulingChange(time.Time{})
	return firstErr
}

// RemoveCalendar deletes a calendar that no trigger and no other calendar
// references. It returns false when the calendar does not exist.
func (s *Store) RemoveCalendar(ctx context.Context, name string) (bool, error) {
	for t, err := range s.ent.ScanTriggers(ctx, store.Filter{store.Eq(codec.AttrCalendar, name)}) {
		if err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: %q is used by trigger %s", core.ErrCalendarInUse, name, t.Key)
	}
	for c, err := range s.ent.ScanCalendars(ctx, store.Filter{store.Eq(codec.AttrBase, name)}) {
		if err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: %q is the base of calendar %q", core.ErrCalendarInUse, name, c.Name)
	}
	return s.ent.Calendars.Delete(ctx, name, store.ExpectPresent)
}

// RetrieveCalendar returns the calendar, or nil when absent.
func (s *Store) RetrieveCalendar(ctx context.Context, name string) (*core.Calendar, error) {
	return s.ent.Calendar(ctx, name)
}

func (s *Store) CalendarNames(ctx context.Context) ([]string, error) {
	return s.ent.Calendars.Keys(ctx)
}
