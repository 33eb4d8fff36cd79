package jobstore

import (
	"context"
	"slices"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/misfire"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

// PauseTrigger moves a NORMAL or BLOCKED trigger to PAUSED. Pausing a
// paused trigger succeeds. It returns false for a missing or finished
// trigger.
func (s *Store) PauseTrigger(ctx context.Context, key core.Key) (bool, error) {
	return s.ent.UpdateTrigger(ctx, key, func(t *core.Trigger) error {
		switch t.State {
		case core.StatePaused:
			return store.ErrNoChange
		case core.StateNormal, core.StateBlocked:
			t.State = core.StatePaused
			return nil
		}
		return store.ErrPreconditionFailed
	})
}

// ResumeTrigger moves a PAUSED trigger back to NORMAL and applies its
// misfire instruction in the same write, so a trigger paused across its
// fire time does not fire a backlog. A trigger whose schedule ends while
// paused becomes COMPLETE.
func (s *Store) ResumeTrigger(ctx context.Context, key core.Key) (bool, error) {
	t, err := s.ent.Trigger(ctx, key)
	if err != nil || t == nil {
		return false, err
	}
	if t.State == core.StateNormal {
		return true, nil
	}
	if t.State != core.StatePaused {
		return false, nil
	}
	_, cal, err := s.loadCalendarIfSet(ctx, t.CalendarName)
	if err != nil {
		return false, err
	}

	outcome := misfire.NotMisfired
	var resumed *core.Trigger
	ok, err := s.ent.UpdateTrigger(ctx, key, func(cur *core.Trigger) error {
		if cur.State != core.StatePaused {
			return store.ErrPreconditionFailed
		}
		o, err := s.misfires.Apply(cur, cal)
		if err != nil {
			return err
		}
		outcome = o
		cur.State = core.StateNormal
		if o == misfire.MisfiredTerminal {
			cur.State = core.StateComplete
		}
		resumed = cur
		return nil
	})
	if err != nil || !ok {
		return false, err
	}
	s.misfires.Notify(ctx, resumed, outcome)
	if resumed.State == core.StateNormal {
		s.signal().SignalSchedulingChange(resumed.NextFireTime)
	}
	return true, nil
}

func (s *Store) loadCalendarIfSet(ctx context.Context, name string) (*core.Calendar, core.ExclusionCalendar, error) {
	if name == "" {
		return nil, nil, nil
	}
	return s.loadCalendar(ctx, name)
}

// PauseJob marks the job paused and pauses each of its triggers. Triggers
// stored for the job later start paused.
func (s *Store) PauseJob(ctx context.Context, key core.Key) (bool, error) {
	ok, err := s.setJobPaused(ctx, key, true)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.forJobTriggers(ctx, key, s.PauseTrigger)
}

// ResumeJob clears the job's paused flag and resumes each of its triggers.
func (s *Store) ResumeJob(ctx context.Context, key core.Key) (bool, error) {
	ok, err := s.setJobPaused(ctx, key, false)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.forJobTriggers(ctx, key, s.ResumeTrigger)
}

func (s *Store) setJobPaused(ctx context.Context, key core.Key, paused bool) (bool, error) {
	return s.ent.UpdateJob(ctx, key, func(j *core.JobDetail) error {
		if j.Paused == paused {
			return store.ErrNoChange
		}
		j.Paused = paused
		return nil
	})
}

func (s *Store) forJobTriggers(ctx context.Context, jobKey core.Key, op func(context.Context, core.Key) (bool, error)) error {
	triggers, err := s.ent.TriggersForJob(ctx, jobKey)
	if err != nil {
		return err
	}
	var firstErr error
	for _, t := range triggers {
		if _, err := op(ctx, t.Key); err != nil {
			s.logger.Error("job trigger fan-out failed", "job", jobKey.String(), "trigger", t.Key.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PauseTriggers pauses every trigger in a matching group and returns the
// groups it touched.
func (s *Store) PauseTriggers(ctx context.Context, m core.GroupMatcher) ([]string, error) {
	return s.applyToGroups(ctx, s.ent.Triggers, m, s.PauseTrigger)
}

// ResumeTriggers resumes every trigger in a matching group.
func (s *Store) ResumeTriggers(ctx context.Context, m core.GroupMatcher) ([]string, error) {
	return s.applyToGroups(ctx, s.ent.Triggers, m, s.ResumeTrigger)
}

// PauseJobs pauses every job in a matching group.
func (s *Store) PauseJobs(ctx context.Context, m core.GroupMatcher) ([]string, error) {
	return s.applyToGroups(ctx, s.ent.Jobs, m, s.PauseJob)
}

// ResumeJobs resumes every job in a matching group.
func (s *Store) ResumeJobs(ctx context.Context, m core.GroupMatcher) ([]string, error) {
	return s.applyToGroups(ctx, s.ent.Jobs, m, s.ResumeJob)
}

// PauseAll pauses every job and every trigger, including triggers whose
// job no longer exists.
func (s *Store) PauseAll(ctx context.Context) error {
	if _, err := s.PauseJobs(ctx, core.AnyGroup()); err != nil {
		return err
	}
	_, err := s.PauseTriggers(ctx, core.AnyGroup())
	return err
}

// ResumeAll resumes every job and every trigger.
func (s *Store) ResumeAll(ctx context.Context) error {
	if _, err := s.ResumeJobs(ctx, core.AnyGroup()); err != nil {
		return err
	}
	_, err := s.ResumeTriggers(ctx, core.AnyGroup())
	if err == nil {
		s.signal().SignalSchedulingChange(time.Time{})
	}
	return err
}

// applyToGroups runs op on each matching key. The batch is not atomic: a
// failure leaves earlier keys changed and keeps going.
func (s *Store) applyToGroups(ctx context.Context, c *store.Collection, m core.GroupMatcher, op func(context.Context, core.Key) (bool, error)) ([]string, error) {
	keys, err := s.keys(ctx, c, store.GroupFilter(m))
	if err != nil {
		return nil, err
	}
	var groups []string
	var firstErr error
	for _, k := range keys {
		ok, err := op(ctx, k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok && !slices.Contains(groups, k.Group) {
			groups = append(groups, k.Group)
		}
	}
	slices.Sort(groups)
	return groups, firstErr
}
