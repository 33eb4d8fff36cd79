// Package scheduler drives a job store: it acquires due triggers, waits for
// their fire times, fires them and runs the jobs on a bounded pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/metrics"
)

const (
	DefaultIdleWait   = 30 * time.Second
	DefaultPoolSize   = 10
	DefaultBatchSize  = 1
	defaultRetryPause = time.Second
)

// EventPublisher receives scheduling events. Publishing must not block.
type EventPublisher interface {
	PublishSchedulingEvent(event *core.SchedulingEvent) error
}

// LeaseRenewer is implemented by stores whose job leases expire. A job
// that disallows concurrent execution renews its leases while it runs.
type LeaseRenewer interface {
	LeaseRenewInterval() time.Duration
	RenewJobLease(ctx context.Context, job *core.JobDetail) error
}

// Options configures a Scheduler.
type Options struct {
	InstanceID string
	// IdleWait bounds how far ahead triggers are acquired and how long the
	// loop sleeps when nothing is due.
	IdleWait    time.Duration
	PoolSize    int
	BatchSize   int
	BatchWindow time.Duration
	Publisher   EventPublisher
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Scheduler runs the acquire, fire, execute, complete cycle against a job
// store. It is the store's SchedulerSignaler.
type Scheduler struct {
	store    core.JobStore
	registry *Registry
	opts     Options
	logger   *slog.Logger

	slots chan struct{}
	freed chan struct{}
	wake  chan struct{}

	mu        sync.Mutex
	candidate time.Time
	unknown   bool
	paused    bool

	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
	workWG   sync.WaitGroup
}

var _ core.SchedulerSignaler = (*Scheduler)(nil)

// New creates a scheduler for store. Jobs are resolved through registry.
func New(store core.JobStore, registry *Registry, opts Options) *Scheduler {
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "scheduler", "instance_id", opts.InstanceID),
		slots:    make(chan struct{}, opts.PoolSize),
		freed:    make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start binds the scheduler to the store and starts the firing loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Initialize(ctx, s.registry, s); err != nil {
		return fmt.Errorf("initialize job store: %w", err)
	}
	if err := s.store.SchedulerStarted(ctx); err != nil {
		return fmt.Errorf("start job store: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	workCtx := context.WithoutCancel(ctx)

	s.loopWG.Add(1)
	go s.loop(loopCtx, workCtx)
	s.logger.Info("scheduler started", "pool_size", s.opts.PoolSize, "batch_size", s.opts.BatchSize)
	return nil
}

// Stop stops the loop, waits for running jobs and shuts the store down.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
		s.loopWG.Wait()
		s.workWG.Wait()
		if s.store != nil {
			s.store.Shutdown(context.Background())
			s.logger.Info("scheduler stopped")
		}
	})
}

// Pause puts the scheduler in standby: running jobs finish, nothing new
// is acquired.
func (s *Scheduler) Pause(ctx context.Context) {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.store.SchedulerPaused(ctx)
}

// Resume leaves standby.
func (s *Scheduler) Resume(ctx context.Context) {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.store.SchedulerResumed(ctx)
	s.SignalSchedulingChange(time.Time{})
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) NotifyTriggerListenersMisfired(_ context.Context, t *core.Trigger) {
	s.publish(&core.SchedulingEvent{Type: core.EventTriggerMisfired, Trigger: t.Key.String(), Job: t.JobKey.String(), FireTime: t.NextFireTime})
}

func (s *Scheduler) NotifySchedulerListenersFinalized(_ context.Context, t *core.Trigger) {
	s.publish(&core.SchedulingEvent{Type: core.EventTriggerFinalized, Trigger: t.Key.String(), Job: t.JobKey.String()})
}

func (s *Scheduler) NotifySchedulerListenersJobDeleted(_ context.Context, key core.Key) {
	s.publish(&core.SchedulingEvent{Type: core.EventJobDeleted, Job: key.String()})
}

// SignalSchedulingChange wakes the loop. A zero time means the change is
// unknown and always interrupts a wait.
func (s *Scheduler) SignalSchedulingChange(candidate time.Time) {
	s.mu.Lock()
	switch {
	case candidate.IsZero():
		s.unknown = true
	case s.candidate.IsZero() || candidate.Before(s.candidate):
		s.candidate = candidate
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeCandidate returns the earliest signaled fire time and clears it. The
// zero time is returned when any signal carried no time.
func (s *Scheduler) takeCandidate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.candidate
	if s.unknown {
		c = time.Time{}
	}
	s.candidate, s.unknown = time.Time{}, false
	return c
}

func (s *Scheduler) publish(event *core.SchedulingEvent) {
	if s.opts.Publisher == nil {
		return
	}
	event.InstanceID = s.opts.InstanceID
	if event.Time.IsZero() {
		event.Time = s.opts.Clock().UTC()
	}
	if err := s.opts.Publisher.PublishSchedulingEvent(event); err != nil {
		s.logger.Warn("failed to publish scheduling event", "type", event.Type, "error", err)
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx, workCtx context.Context) {
	defer s.loopWG.Done()
	for !s.stopped() {
		if s.isPaused() {
			s.sleep(s.opts.IdleWait)
			continue
		}

		free := cap(s.slots) - len(s.slots)
		if free == 0 {
			select {
			case <-s.freed:
			case <-s.stop:
			}
			continue
		}

		s.drainWake()
		now := s.opts.Clock()
		triggers, err := s.store.AcquireNextTriggers(ctx, now.Add(s.opts.IdleWait), min(free, s.opts.BatchSize), s.opts.BatchWindow)
		if err != nil {
			if !s.stopped() {
				s.logger.Error("failed to acquire triggers", "error", err)
				s.sleep(defaultRetryPause)
			}
			continue
		}
		if len(triggers) == 0 {
			s.sleep(s.opts.IdleWait)
			continue
		}

		if !s.waitForFireTime(triggers) {
			s.release(workCtx, triggers)
			continue
		}

		bundles, err := s.store.TriggersFired(ctx, triggers)
		if err != nil {
			s.logger.Warn("some triggers could not be fired", "error", err)
		}
		for _, b := range bundles {
			s.slots <- struct{}{}
			s.workWG.Add(1)
			go s.run(workCtx, b)
		}
	}
}

// waitForFireTime waits until the earliest acquired trigger is due. It
// returns false when the scheduler stops or a change makes an earlier
// trigger possible; the caller then releases the batch.
func (s *Scheduler) waitForFireTime(triggers []*core.Trigger) bool {
	earliest := triggers[0].NextFireTime
	for _, t := range triggers[1:] {
		if t.NextFireTime.Before(earliest) {
			earliest = t.NextFireTime
		}
	}
	for {
		d := earliest.Sub(s.opts.Clock())
		if d <= 0 {
			return !s.stopped()
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
			return !s.stopped()
		case <-s.stop:
			timer.Stop()
			return false
		case <-s.wake:
			timer.Stop()
			if c := s.takeCandidate(); c.IsZero() || c.Before(earliest) {
				s.logger.Debug("scheduling change, releasing acquired triggers", "count", len(triggers))
				return false
			}
		}
	}
}

func (s *Scheduler) release(ctx context.Context, triggers []*core.Trigger) {
	for _, t := range triggers {
		if err := s.store.ReleaseAcquiredTrigger(ctx, t); err != nil {
			s.logger.Error("failed to release trigger", "trigger", t.Key.String(), "error", err)
		}
	}
}

// drainWake discards signals raised before the next acquisition.
func (s *Scheduler) drainWake() {
	select {
	case <-s.wake:
	default:
	}
	s.takeCandidate()
}

func (s *Scheduler) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
		s.takeCandidate()
	case <-s.stop:
	}
}

func (s *Scheduler) run(ctx context.Context, b *core.TriggerFiredBundle) {
	defer func() {
		<-s.slots
		select {
		case s.freed <- struct{}{}:
		default:
		}
		s.workWG.Done()
	}()

	log := s.logger.With("trigger", b.Trigger.Key.String(), "job", b.Job.Key.String())
	s.publish(&core.SchedulingEvent{
		Type:     core.EventTriggerFired,
		Trigger:  b.Trigger.Key.String(),
		Job:      b.Job.Key.String(),
		FireTime: b.ScheduledFireTime,
	})

	stopRenew := s.renewLeases(ctx, b.Job, log)
	jc := newJobContext(b)
	instr := core.InstructionSetTriggerError
	if job, ok := s.registry.Lookup(b.Job.Class); !ok {
		log.Error("no job registered for class", "class", b.Job.Class)
		metrics.JobExecutions.WithLabelValues("unknown_class").Inc()
	} else {
		for {
			err := s.execute(ctx, job, jc)
			instr = instructionFor(err)
			if err != nil {
				log.Warn("job failed", "error", err, "instruction", instr.String(), "refire_count", jc.RefireCount)
				s.publish(&core.SchedulingEvent{Type: core.EventJobFailed, Trigger: b.Trigger.Key.String(), Job: b.Job.Key.String(), Error: err.Error()})
			} else {
				s.publish(&core.SchedulingEvent{Type: core.EventJobCompleted, Trigger: b.Trigger.Key.String(), Job: b.Job.Key.String()})
			}
			if instr != core.InstructionReExecuteJob || s.stopped() {
				break
			}
			jc.RefireCount++
		}
		if instr == core.InstructionReExecuteJob {
			instr = core.InstructionNoop
		}
	}

	stopRenew()
	done := b.Job.Clone()
	done.Data = jc.JobData
	if err := s.store.TriggeredJobComplete(ctx, b.Trigger, done, instr); err != nil {
		log.Error("failed to complete trigger", "instruction", instr.String(), "error", err)
	}
}

// renewLeases keeps the leases of a running exclusive job fresh until the
// returned stop function is called.
func (s *Scheduler) renewLeases(ctx context.Context, job *core.JobDetail, log *slog.Logger) (stop func()) {
	r, ok := s.store.(LeaseRenewer)
	if !ok || !job.DisallowConcurrent || r.LeaseRenewInterval() <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.LeaseRenewInterval())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			err := r.RenewJobLease(ctx, job)
			if errors.Is(err, core.ErrLeaseLost) {
				log.Error("job lease lost while running")
				return
			}
			if err != nil {
				log.Warn("failed to renew job lease", "error", err)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, jc *JobContext) (err error) {
	start := time.Now()
	result := "success"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			result = "panic"
		} else if err != nil {
			result = "error"
		}
		metrics.JobDuration.Observe(time.Since(start).Seconds())
		metrics.JobExecutions.WithLabelValues(result).Inc()
	}()
	return job.Execute(ctx, jc)
}
