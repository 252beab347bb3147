// Package scheduler runs the vault's background maintenance on cron
// schedules: audit retention, WAL checkpoints and database backups.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives named jobs on standard five-field cron specs with a
// one-minute tick. Jobs are registered before Start; each tracks its
// next fire time in memory, so a restart simply waits for the next one.
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	jobs   []*job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
	nextRun  time.Time
}

// NewScheduler creates a scheduler with the standard five-field cron parser.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a named job under a cron spec. The first run is the
// next time the spec fires. Registration is closed once Start is called.
func (s *Scheduler) AddJob(name, spec string, run func(ctx context.Context) error) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.jobs = append(s.jobs, &job{
		name:     name,
		schedule: schedule,
		run:      run,
		nextRun:  schedule.Next(time.Now().UTC()),
	})
	return nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job whose fire time has passed and advances it. The
// jobs slice is immutable after Start, and tick is the only writer of
// nextRun, so no lock is held while a job runs.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if j.nextRun.After(now) {
			continue
		}
		if !s.tryAcquire(j.name) {
			continue // still running from a previous trigger
		}
		s.runJob(ctx, j)
		s.release(j.name)
		j.nextRun = j.schedule.Next(now)
	}
}

// runJob executes one job, logging its outcome. A failing job stays
// scheduled; the failure is an operator concern, not a stop condition.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	started := time.Now()
	s.logger.Info("running maintenance job", slog.String("job", j.name))

	if err := j.run(ctx); err != nil {
		s.logger.Error("maintenance job failed",
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("maintenance job finished",
		slog.String("job", j.name),
		slog.Duration("took", time.Since(started)),
	)
}

// RunNow triggers one registered job immediately, outside its schedule,
// and returns the job's error. A job already executing is not run twice.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	if !s.tryAcquire(name) {
		return nil
	}
	defer s.release(name)
	return target.run(ctx)
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// release removes the job from the in-flight set.
func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
