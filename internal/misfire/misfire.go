// Package misfire detects triggers whose next fire time has fallen behind
// the clock by more than the misfire threshold and applies their misfire
// instruction.
package misfire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
	"github.com/openjobspec/ojs-jobstore-nats/internal/trigger"
)

// Outcome is the result of evaluating a trigger.
type Outcome int

const (
	// NotMisfired means the trigger is on time or its schedule did not move.
	NotMisfired Outcome = iota
	// MisfiredWithNext means the trigger missed a fire time and now has a
	// recomputed next fire time.
	MisfiredWithNext
	// MisfiredTerminal means the trigger missed a fire time and will never
	// fire again.
	MisfiredTerminal
)

func (o Outcome) String() string {
	switch o {
	case MisfiredWithNext:
		return "rescheduled"
	case MisfiredTerminal:
		return "terminal"
	default:
		return "not_misfired"
	}
}

// DefaultThreshold is the misfire threshold used when none is configured.
const DefaultThreshold = time.Minute

// Evaluator applies misfire instructions.
type Evaluator struct {
	threshold time.Duration
	now       func() time.Time
	rules     *trigger.Evaluator
	logger    *slog.Logger

	mu       sync.RWMutex
	signaler core.SchedulerSignaler
}

// NewEvaluator creates a misfire evaluator. signaler may be nil.
func NewEvaluator(threshold time.Duration, now func() time.Time, rules *trigger.Evaluator, signaler core.SchedulerSignaler, logger *slog.Logger) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		threshold: threshold,
		now:       now,
		rules:     rules,
		signaler:  signaler,
		logger:    logger.With("component", "misfire"),
	}
}

// Threshold returns how far behind a fire time may fall before it counts
// as missed.
func (e *Evaluator) Threshold() time.Duration { return e.threshold }

// SetSignaler replaces the notification target.
func (e *Evaluator) SetSignaler(s core.SchedulerSignaler) {
	e.mu.Lock()
	e.signaler = s
	e.mu.Unlock()
}

func (e *Evaluator) signal() core.SchedulerSignaler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.signaler
}

// Misfired reports whether t has missed its next fire time.
func (e *Evaluator) Misfired(t *core.Trigger) bool {
	if t.NextFireTime.IsZero() || t.MisfireInstruction == core.MisfireIgnorePolicy {
		return false
	}
	return t.NextFireTime.Before(e.now().Add(-e.threshold))
}

// Apply rewrites t in place according to its misfire instruction and
// reports the outcome. It does not notify anyone, so it is safe to call
// inside a compare-and-swap retry loop.
func (e *Evaluator) Apply(t *core.Trigger, cal core.ExclusionCalendar) (Outcome, error) {
	if !e.Misfired(t) {
		return NotMisfired, nil
	}
	before := t.NextFireTime
	if err := e.rules.UpdateAfterMisfire(t, cal); err != nil {
		return NotMisfired, err
	}
	switch {
	case t.NextFireTime.IsZero():
		return MisfiredTerminal, nil
	case t.NextFireTime.Equal(before):
		return NotMisfired, nil
	default:
		return MisfiredWithNext, nil
	}
}

// Notify tells listeners about an outcome returned by Apply once the
// rewritten trigger has been persisted.
func (e *Evaluator) Notify(ctx context.Context, t *core.Trigger, o Outcome) {
	if o == NotMisfired {
		return
	}
	metrics.Misfires.WithLabelValues(o.String()).Inc()
	e.logger.Info("trigger misfired", "trigger", t.Key.String(), "outcome", o.String(),
		"next_fire_time", t.NextFireTime)
	sig := e.signal()
	if sig == nil {
		return
	}
	sig.NotifyTriggerListenersMisfired(ctx, t)
	if o == MisfiredTerminal {
		sig.NotifySchedulerListenersFinalized(ctx, t)
	}
}

// Evaluate applies the misfire instruction and notifies listeners.
func (e *Evaluator) Evaluate(ctx context.Context, t *core.Trigger, cal core.ExclusionCalendar) (Outcome, error) {
	o, err := e.Apply(t, cal)
	if err != nil {
		return o, err
	}
	e.Notify(ctx, t, o)
	return o, nil
}
