// Package scheduler fires interval jobs with an overlap guard: a job whose
// previous run is still in flight skips the tick instead of stacking up.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Run statuses recorded for each tick.
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusSkippedOverlap = "skipped_overlap"
	StatusSkippedLocked  = "skipped_locked"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name     string        // Unique job identifier.
	Interval time.Duration // Fixed period between ticks.
	Run      func(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	// LockDir holds one flock file per job so two relay processes on the
	// same host never run the same job at once. Empty disables the lock.
	LockDir string
}

// RunRecorder persists job runs.
type RunRecorder interface {
	UpsertScheduledJob(jobName, status string, runAt time.Time) error
}

type entry struct {
	job  *Job
	gate *gate
	lock *FileLock
}

// Scheduler manages job registration, tick dispatch, and overlap control.
type Scheduler struct {
	cfg      Config
	recorder RunRecorder
	jobs     map[string]*entry
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// New creates a Scheduler. recorder may be nil.
func New(cfg Config, recorder RunRecorder) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		recorder: recorder,
		jobs:     make(map[string]*entry),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{job: job, gate: newGate()}
	if s.cfg.LockDir != "" {
		e.lock = NewFileLock(filepath.Join(s.cfg.LockDir, job.Name+".lock"))
	}
	s.jobs[job.Name] = e
	slog.Info("Scheduler job registered", "name", job.Name, "interval", job.Interval)
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Run starts one ticker per job. It blocks until ctx is cancelled and then
// waits for in-flight runs, which see the cancelled context.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.LockDir != "" {
		if err := os.MkdirAll(s.cfg.LockDir, 0o700); err != nil {
			return fmt.Errorf("scheduler lock dir: %w", err)
		}
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	slog.Info("Scheduler started", "jobs", len(entries))
	var loops sync.WaitGroup
	for _, e := range entries {
		loops.Add(1)
		go func(e *entry) {
			defer loops.Done()
			s.loop(ctx, e)
		}(e)
	}
	loops.Wait()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	interval := e.job.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.tick(ctx, e, t)
		}
	}
}

// tick starts a run unless the previous one is still in flight.
func (s *Scheduler) tick(ctx context.Context, e *entry, now time.Time) bool {
	if !e.gate.tryEnter(now) {
		slog.Warn("Scheduler job skipped: previous run still in flight", "job", e.job.Name, "running_for", e.gate.busyFor(now).Round(time.Millisecond))
		s.logJobRun(e.job.Name, StatusSkippedOverlap, now)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.gate.leave()
		s.execute(ctx, e, now)
	}()
	return true
}

// RunOnce runs a registered job immediately and synchronously, waiting for
// any in-flight run to finish first.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if err := e.gate.enter(ctx, time.Now); err != nil {
		return err
	}
	defer e.gate.leave()
	return s.execute(ctx, e, time.Now())
}

func (s *Scheduler) execute(ctx context.Context, e *entry, now time.Time) error {
	if e.lock != nil {
		acquired, err := e.lock.TryLock()
		if err != nil {
			slog.Warn("Scheduler lock error", "job", e.job.Name, "error", err)
			s.logJobRun(e.job.Name, StatusError, now)
			return err
		}
		if !acquired {
			slog.Warn("Scheduler job skipped: lock held by another process", "job", e.job.Name, "owner", LockOwner(e.lock.Path()))
			s.logJobRun(e.job.Name, StatusSkippedLocked, now)
			return fmt.Errorf("job %q is locked by another process", e.job.Name)
		}
		defer e.lock.Unlock()
	}

	started := time.Now()
	err := e.job.Run(ctx)
	status := StatusOK
	if err != nil {
		status = StatusError
		slog.Warn("Scheduler job failed", "job", e.job.Name, "error", err, "duration", time.Since(started))
	} else {
		slog.Debug("Scheduler job finished", "job", e.job.Name, "duration", time.Since(started))
	}
	s.logJobRun(e.job.Name, status, now)
	return err
}

// logJobRun persists the run status (best-effort).
func (s *Scheduler) logJobRun(name, status string, tick time.Time) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpsertScheduledJob(name, status, tick); err != nil {
		slog.Debug("Scheduler run not recorded", "job", name, "error", err)
	}
}
