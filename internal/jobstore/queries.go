package jobstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

func (s *Store) NumberOfJobs(ctx context.Context) (int, error) {
	return s.ent.Jobs.Count(ctx)
}

func (s *Store) NumberOfTriggers(ctx context.Context) (int, error) {
	return s.ent.Triggers.Count(ctx)
}

func (s *Store) NumberOfCalendars(ctx context.Context) (int, error) {
	return s.ent.Calendars.Count(ctx)
}

// JobKeys returns the keys of jobs whose group matches.
func (s *Store) JobKeys(ctx context.Context, m core.GroupMatcher) ([]core.Key, error) {
	return s.keys(ctx, s.ent.Jobs, store.GroupFilter(m))
}

// TriggerKeys returns the keys of triggers whose group matches.
func (s *Store) TriggerKeys(ctx context.Context, m core.GroupMatcher) ([]core.Key, error) {
	return s.keys(ctx, s.ent.Triggers, store.GroupFilter(m))
}

func (s *Store) JobGroupNames(ctx context.Context) ([]string, error) {
	return s.groups(ctx, s.ent.Jobs, nil)
}

func (s *Store) TriggerGroupNames(ctx context.Context) ([]string, error) {
	return s.groups(ctx, s.ent.Triggers, nil)
}

// PausedTriggerGroups returns the groups that hold at least one paused
// trigger.
func (s *Store) PausedTriggerGroups(ctx context.Context) ([]string, error) {
	return s.groups(ctx, s.ent.Triggers, store.Filter{store.Eq(codec.AttrState, string(core.StatePaused))})
}

func (s *Store) TriggersForJob(ctx context.Context, key core.Key) ([]*core.Trigger, error) {
	return s.ent.TriggersForJob(ctx, key)
}

func (s *Store) keys(ctx context.Context, c *store.Collection, filter store.Filter) ([]core.Key, error) {
	var out []core.Key
	for r, err := range c.All(ctx, filter, s.cfg.ScanPageSize) {
		if err != nil {
			return nil, err
		}
		out = append(out, core.NewKey(r.Item.String(codec.AttrGroup), r.Item.String(codec.AttrName)))
	}
	slices.SortFunc(out, func(a, b core.Key) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (s *Store) groups(ctx context.Context, c *store.Collection, filter store.Filter) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for r, err := range c.All(ctx, filter, s.cfg.ScanPageSize) {
		if err != nil {
			return nil, err
		}
		g := r.Item.String(codec.AttrGroup)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	slices.Sort(out)
	return out, nil
}
