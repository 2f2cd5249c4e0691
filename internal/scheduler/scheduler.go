package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

var (
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobRunning   = errors.New("job already running")
)

// Task is the work a job performs on each tick.
type Task func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	task    Task
	entryID cron.EntryID
	active  atomic.Bool

	mu           sync.Mutex
	lastRunAt    *time.Time
	lastDuration time.Duration
	lastErr      error
	runs         int
	failures     int
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name         string
	Spec         string
	NextRunAt    *time.Time
	LastRunAt    *time.Time
	LastDuration time.Duration
	LastError    string
	Runs         int
	Failures     int
}

// Scheduler runs named maintenance jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*job
	order   []string
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler. Overlapping runs of the same job are
// skipped and panics are recovered.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	adapter := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job. spec accepts standard five-field expressions and
// descriptors such as "@hourly" or "@every 5m".
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &job{name: name, spec: spec, task: task}
	id, err := s.cron.AddFunc(spec, func() {
		_ = s.run(s.runContext(), j)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Start begins firing jobs. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels in-flight jobs and waits for them to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the scheduler is firing jobs.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow runs a job immediately, outside its schedule. It returns
// ErrJobRunning when the job is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, j)
}

// run executes one invocation of j. Scheduled and manual runs share the
// same guard, so a job never overlaps itself.
func (s *Scheduler) run(ctx context.Context, j *job) error {
	if !j.active.CompareAndSwap(false, true) {
		s.logger.Debug("scheduled job skipped, still running", "job", j.name)
		return fmt.Errorf("%w: %s", ErrJobRunning, j.name)
	}
	defer j.active.Store(false)

	started := s.now()
	err := runTask(ctx, j.task)
	finished := s.now()

	j.mu.Lock()
	j.lastRunAt = &started
	j.lastDuration = finished.Sub(started)
	j.lastErr = err
	j.runs++
	if err != nil {
		j.failures++
	}
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "job", j.name, "error", err)
		return err
	}
	s.logger.Debug("scheduled job finished", "job", j.name, "duration", finished.Sub(started))
	return nil
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// Jobs returns every job in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		statuses = append(statuses, s.status(s.jobs[name]))
	}
	return statuses
}

// Job returns one job's status.
func (s *Scheduler) Job(name string) (JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.status(j), nil
}

func (s *Scheduler) status(j *job) JobStatus {
	status := JobStatus{Name: j.name, Spec: j.spec}
	if s.running {
		if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
			status.NextRunAt = &next
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	status.LastRunAt = j.lastRunAt
	status.LastDuration = j.lastDuration
	status.Runs = j.runs
	status.Failures = j.failures
	if j.lastErr != nil {
		status.LastError = j.lastErr.Error()
	}
	return status
}

// cronLogger routes cron's internal logging to charmbracelet/log.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
