package store

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// DefaultPageSize is the scan page size used when none is configured.
const DefaultPageSize = 100

// Entities gives typed access to the three collections.
type Entities struct {
	Jobs      *Collection
	Triggers  *Collection
	Calendars *Collection

	codec    *codec.Codec
	pageSize int
	logger   *slog.Logger
}

// NewEntities bundles the collections with the codec used for their items.
func NewEntities(jobs, triggers, calendars *Collection, c *codec.Codec, pageSize int, logger *slog.Logger) *Entities {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Entities{
		Jobs:      jobs,
		Triggers:  triggers,
		Calendars: calendars,
		codec:     c,
		pageSize:  pageSize,
		logger:    logger,
	}
}

// Codec returns the item codec.
func (e *Entities) Codec() *codec.Codec { return e.codec }

// Job returns the job at key, or nil when absent.
func (e *Entities) Job(ctx context.Context, key core.Key) (*core.JobDetail, error) {
	it, ok, err := e.Jobs.Get(ctx, key.String())
	if err != nil || !ok {
		return nil, err
	}
	return e.codec.DecodeJob(it)
}

// PutJob writes a job under the given precondition.
func (e *Entities) PutJob(ctx context.Context, j *core.JobDetail, expect Expect) (bool, error) {
	return e.Jobs.Put(ctx, j.Key.String(), e.codec.EncodeJob(j), expect)
}

// UpdateJob applies fn to a decoded copy of the job and writes it back
// with compare-and-swap. fn may return ErrPreconditionFailed or ErrNoChange.
func (e *Entities) UpdateJob(ctx context.Context, key core.Key, fn func(*core.JobDetail) error) (bool, error) {
	return e.Jobs.Update(ctx, key.String(), func(it codec.Item) (codec.Item, error) {
		j, err := e.codec.DecodeJob(it)
		if err != nil {
			return nil, err
		}
		if err := fn(j); err != nil {
			return nil, err
		}
		return e.codec.EncodeJob(j), nil
	})
}

// Trigger returns the trigger at key, or nil when absent.
func (e *Entities) Trigger(ctx context.Context, key core.Key) (*core.Trigger, error) {
	it, ok, err := e.Triggers.Get(ctx, key.String())
	if err != nil || !ok {
		return nil, err
	}
	return e.codec.DecodeTrigger(it)
}

// PutTrigger writes a trigger under the given precondition.
func (e *Entities) PutTrigger(ctx context.Context, t *core.Trigger, expect Expect) (bool, error) {
	it, err := e.codec.EncodeTrigger(t)
	if err != nil {
		return false, err
	}
	return e.Triggers.Put(ctx, t.Key.String(), it, expect)
}

// UpdateTrigger is the trigger counterpart of UpdateJob.
func (e *Entities) UpdateTrigger(ctx context.Context, key core.Key, fn func(*core.Trigger) error) (bool, error) {
	return e.Triggers.Update(ctx, key.String(), func(it codec.Item) (codec.Item, error) {
		t, err := e.codec.DecodeTrigger(it)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			return nil, err
		}
		return e.codec.EncodeTrigger(t)
	})
}

// Calendar returns the calendar with the given name, or nil when absent.
func (e *Entities) Calendar(ctx context.Context, name string) (*core.Calendar, error) {
	it, ok, err := e.Calendars.Get(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	return e.codec.DecodeCalendar(it)
}

// PutCalendar writes a calendar under the given precondition.
func (e *Entities) PutCalendar(ctx context.Context, cal *core.Calendar, expect Expect) (bool, error) {
	return e.Calendars.Put(ctx, cal.Name, e.codec.EncodeCalendar(cal), expect)
}

// ScanJobs yields the jobs matching filter. Items that fail to decode are
// logged and skipped.
func (e *Entities) ScanJobs(ctx context.Context, filter Filter) iter.Seq2[*core.JobDetail, error] {
	return scanDecoded(e, e.Jobs.All(ctx, filter, e.pageSize), e.codec.DecodeJob)
}

// ScanTriggers yields the triggers matching filter. Items that fail to
// decode are logged and skipped.
func (e *Entities) ScanTriggers(ctx context.Context, filter Filter) iter.Seq2[*core.Trigger, error] {
	return scanDecoded(e, e.Triggers.All(ctx, filter, e.pageSize), e.codec.DecodeTrigger)
}

// ScanCalendars yields the calendars matching filter.
func (e *Entities) ScanCalendars(ctx context.Context, filter Filter) iter.Seq2[*core.Calendar, error] {
	return scanDecoded(e, e.Calendars.All(ctx, filter, e.pageSize), e.codec.DecodeCalendar)
}

// TriggersForJob collects the triggers that reference the job.
func (e *Entities) TriggersForJob(ctx context.Context, jobKey core.Key) ([]*core.Trigger, error) {
	var out []*core.Trigger
	for t, err := range e.ScanTriggers(ctx, Filter{Eq(codec.AttrJob, jobKey.String())}) {
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func scanDecoded[T any](e *Entities, records iter.Seq2[Record, error], decode func(codec.Item) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for r, err := range records {
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := decode(r.Item)
			if err != nil {
				if errors.Is(err, core.ErrDecode) || errors.Is(err, core.ErrUnknownType) {
					e.logger.Warn("skipping undecodable record", "key", r.Key, "error", err)
					continue
				}
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
