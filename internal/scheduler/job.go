package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Job is the executable behind a stored job's class.
type Job interface {
	Execute(ctx context.Context, jc *JobContext) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, jc *JobContext) error

func (f JobFunc) Execute(ctx context.Context, jc *JobContext) error { return f(ctx, jc) }

// JobContext is handed to a job for one execution.
type JobContext struct {
	Bundle *core.TriggerFiredBundle
	// JobData is a copy of the job's own data. Changes are written back
	// when the job persists its data.
	JobData core.JobDataMap
	// Merged is the job's data overlaid with the trigger's.
	Merged core.JobDataMap
	// RefireCount counts re-executions requested by the job itself.
	RefireCount int
	FireTime    time.Time
}

func newJobContext(b *core.TriggerFiredBundle) *JobContext {
	jobData := b.Job.Data.Clone()
	if jobData == nil {
		jobData = core.JobDataMap{}
	}
	merged := jobData.Clone()
	maps.Copy(merged, b.Trigger.Data)
	return &JobContext{Bundle: b, JobData: jobData, Merged: merged, FireTime: b.FireTime}
}

// JobKey returns the key of the executing job.
func (jc *JobContext) JobKey() core.Key { return jc.Bundle.Job.Key }

// TriggerKey returns the key of the trigger that fired.
func (jc *JobContext) TriggerKey() core.Key { return jc.Bundle.Trigger.Key }

// JobError lets a failing job choose what happens to its trigger.
type JobError struct {
	Err         error
	Instruction core.CompletedExecutionInstruction
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("job error (%s)", e.Instruction)
	}
	return fmt.Sprintf("job error (%s): %v", e.Instruction, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Refire returns an error that asks the scheduler to run the job again
// immediately.
func Refire(err error) error {
	return &JobError{Err: err, Instruction: core.InstructionReExecuteJob}
}

// Unschedule returns an error that marks the firing trigger ERROR.
func Unschedule(err error) error {
	return &JobError{Err: err, Instruction: core.InstructionSetTriggerError}
}

// UnscheduleAll returns an error that marks every trigger of the job ERROR.
func UnscheduleAll(err error) error {
	return &JobError{Err: err, Instruction: core.InstructionSetAllJobTriggersError}
}

// instructionFor maps a job result to a completion instruction.
func instructionFor(err error) core.CompletedExecutionInstruction {
	var je *JobError
	if errors.As(err, &je) {
		return je.Instruction
	}
	return core.InstructionNoop
}

// ErrDuplicateClass is returned when a class is registered twice.
var ErrDuplicateClass = errors.New("job class already registered")

// Registry maps job classes to implementations. It is the loader context
// handed to the job store.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds a job implementation under class.
func (r *Registry) Register(class string, job Job) error {
	if class == "" {
		return fmt.Errorf("register job: empty class")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[class]; ok {
		return fmt.Errorf("register job %q: %w", class, ErrDuplicateClass)
	}
	r.jobs[class] = job
	return nil
}

// HasJob reports whether class is registered.
func (r *Registry) HasJob(class string) bool {
	_, ok := r.Lookup(class)
	return ok
}

func (r *Registry) Lookup(class string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[class]
	return job, ok
}

// Classes returns the registered classes, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.jobs))
	for class := range r.jobs {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// ClassLog is the built-in job class that logs each firing.
const ClassLog = "log"

// LogJob logs the firing with the merged job data.
func LogJob(logger *slog.Logger) Job {
	return JobFunc(func(_ context.Context, jc *JobContext) error {
		logger.Info("job fired",
			"job", jc.JobKey().String(),
			"trigger", jc.TriggerKey().String(),
			"fire_time", jc.FireTime,
			"data", map[string]any(jc.Merged),
		)
		return nil
	})
}
