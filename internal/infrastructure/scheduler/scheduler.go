package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/logger"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusRetrying JobStatus = "RETRYING"
	JobStatusSuccess  JobStatus = "SUCCESS"
	JobStatusFailed   JobStatus = "FAILED"
)

// Job is one unit of supervised work. At most one job per ID is active at a time.
type Job struct {
	ID        uuid.UUID
	Message   shared.Message
	Status    JobStatus
	Attempt   int // runs started so far
	LastError string
	NextRunAt time.Time
}

// NewJob creates a pending job for msg keyed by id
func NewJob(id uuid.UUID, msg shared.Message) *Job {
	return &Job{ID: id, Message: msg, Status: JobStatusPending}
}

// Executor runs a job. A non-nil error asks the scheduler to retry.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// ExhaustedFunc is called once a job has failed its last retry.
type ExhaustedFunc func(ctx context.Context, job *Job, err error)

// Config holds scheduler configuration
type Config struct {
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration // zero: no per-run timeout
	RetryIntervals []time.Duration
}

// DefaultConfig returns four workers and retries after 5s, 15s and 60s
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		RetryIntervals: []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	}
	for _, d := range c.RetryIntervals {
		if d <= 0 {
			return fmt.Errorf("%w: retry intervals must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

// Stats is a point-in-time view of the scheduler
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Exhausted int64 `json:"exhausted"`
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithExhaustedHandler sets the callback for jobs that ran out of retries
func WithExhaustedHandler(fn ExhaustedFunc) Option {
	return func(s *Scheduler) { s.onExhausted = fn }
}

// Scheduler runs jobs on a fixed worker pool and re-runs failed jobs on the
// configured retry intervals.
type Scheduler struct {
	config      Config
	executor    Executor
	onExhausted ExhaustedFunc
	clock       shared.Clock
	logger      *zap.Logger

	jobs   chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	active    map[uuid.UUID]struct{}
	stats     Stats
}

// New creates a scheduler. Call Start before submitting jobs.
func New(config Config, executor Executor, clock shared.Clock, log *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	s := &Scheduler{
		config:   config,
		executor: executor,
		clock:    clock,
		logger:   logger.OrNop(log).Named("scheduler"),
		jobs:     make(chan *Job, config.QueueSize),
		active:   make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Durations("retry_intervals", s.config.RetryIntervals),
	)
	return nil
}

// Stop cancels running jobs and pending retries and waits for the workers.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// Submit queues a job without blocking.
func (s *Scheduler) Submit(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if _, ok := s.active[job.ID]; ok {
		return ErrJobInProgress
	}

	job.Status = JobStatusPending
	select {
	case s.jobs <- job:
		s.active[job.ID] = struct{}{}
		s.logger.Debug("Job submitted", zap.String("job_id", job.ID.String()), logger.MessageType(job.Message.Type))
		return nil
	default:
		return ErrJobQueueFull
	}
}

// IsActive reports whether a job with id is queued, running or waiting to retry
func (s *Scheduler) IsActive(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Active = len(s.active)
	st.Queued = len(s.jobs)
	return st
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobs:
			s.process(job, id)
		}
	}
}

func (s *Scheduler) process(job *Job, workerID int) {
	job.Status = JobStatusRunning
	job.Attempt++
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		logger.Attempt(job.Attempt),
	)

	err := s.run(job)
	if err == nil {
		job.Status = JobStatusSuccess
		job.LastError = ""
		s.finish(job, func(st *Stats) { st.Succeeded++ })
		log.Debug("Job completed")
		return
	}
	job.LastError = err.Error()

	if s.ctx.Err() != nil {
		s.finish(job, nil)
		log.Warn("Job interrupted by shutdown", zap.Error(err))
		return
	}

	if job.Attempt > len(s.config.RetryIntervals) {
		job.Status = JobStatusFailed
		log.Error("Job failed, retries exhausted", zap.Error(err))
		if s.onExhausted != nil {
			s.onExhausted(s.ctx, job, err)
		}
		s.finish(job, func(st *Stats) { st.Exhausted++ })
		return
	}

	delay := s.config.RetryIntervals[job.Attempt-1]
	job.Status = JobStatusRetrying
	job.NextRunAt = s.clock.Now().Add(delay)
	s.mu.Lock()
	s.stats.Retried++
	s.mu.Unlock()
	log.Warn("Job failed, scheduled for retry", zap.Duration("delay", delay), zap.Error(err))

	s.wg.Add(1)
	go s.retryAfter(job, delay)
}

func (s *Scheduler) run(job *Job) (err error) {
	ctx := s.ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return s.executor.Execute(ctx, job)
}

func (s *Scheduler) retryAfter(job *Job, delay time.Duration) {
	defer s.wg.Done()
	select {
	case <-s.clock.After(delay):
	case <-s.ctx.Done():
		s.finish(job, nil)
		return
	}

	job.Status = JobStatusPending
	select {
	case s.jobs <- job:
	case <-s.ctx.Done():
		s.finish(job, nil)
	}
}

func (s *Scheduler) finish(job *Job, update func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, job.ID)
	if update != nil {
		update(&s.stats)
	}
}
