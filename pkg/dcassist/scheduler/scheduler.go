// Package scheduler runs the assistant's background maintenance jobs on
// cron schedules: idle-session pruning and history journal upkeep. Uses
// robfig/cron for expression parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultJobTimeout caps a single job execution.
const defaultJobTimeout = 5 * time.Minute

// Job is one registered maintenance job.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error

	entryID   cron.EntryID
	lastRunAt time.Time
	lastError string
	runCount  int
}

// JobStatus is read-only job state for listings and health output.
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int       `json:"run_count"`
}

// Scheduler manages the maintenance jobs.
type Scheduler struct {
	jobs    map[string]*Job
	cron    *cron.Cron
	running map[string]bool
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty scheduler. Register jobs with Add, then Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		running: make(map[string]bool),
		timeout: defaultJobTimeout,
		logger:  logger.With("component", "scheduler"),
	}
}

// SetTimeout overrides the per-job execution timeout.
func (s *Scheduler) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Add registers a job. If the scheduler is already running, the job is
// scheduled immediately.
func (s *Scheduler) Add(name, spec string, run func(ctx context.Context) error) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if spec == "" {
		return fmt.Errorf("job schedule is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already exists", name)
	}

	job := &Job{Name: name, Spec: spec, Run: run}
	if s.cron != nil {
		if err := s.scheduleLocked(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	s.jobs[name] = job

	s.logger.Info("maintenance job registered", "job", name, "schedule", spec)
	return nil
}

// Start parses the schedules and begins firing jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	for _, job := range s.jobs {
		if err := s.scheduleLocked(job); err != nil {
			return fmt.Errorf("invalid schedule %q for job %q: %w", job.Spec, job.Name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts the scheduler down, waiting briefly for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Jobs returns the status of all registered jobs.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:      j.Name,
			Spec:      j.Spec,
			LastRunAt: j.lastRunAt,
			LastError: j.lastError,
			RunCount:  j.runCount,
		})
	}
	return out
}

// RunNow fires a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.execute(job)
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.lastError != "" {
		return fmt.Errorf("job %q: %s", name, job.lastError)
	}
	return nil
}

// ---------- Internal ----------

// scheduleLocked registers a job with the running cron. Callers hold mu.
func (s *Scheduler) scheduleLocked(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		s.execute(job)
	})
	if err != nil {
		return err
	}
	job.entryID = entryID
	return nil
}

// execute runs one job with safety guards: a per-job running flag prevents
// duplicate concurrent fires, panics are recovered so one bad job cannot
// take down scheduling, and a timeout prevents stalls.
func (s *Scheduler) execute(job *Job) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "job", job.Name)
		return
	}
	s.running[job.Name] = true
	job.lastRunAt = time.Now()
	job.runCount++
	timeout := s.timeout
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		if r := recover(); r != nil {
			job.lastError = fmt.Sprintf("panic: %v", r)
			s.logger.Error("maintenance job panicked", "job", job.Name, "panic", r)
		}
		s.mu.Unlock()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)

	s.mu.Lock()
	if err != nil {
		job.lastError = err.Error()
	} else {
		job.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("maintenance job failed", "job", job.Name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Debug("maintenance job completed", "job", job.Name, "duration", time.Since(start))
	}
}
