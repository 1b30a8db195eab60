// Package scheduler runs the daemon's recurring jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lim1712/orchestrator/internal/logging"
)

// Job is one recurring task.
type Job struct {
	Name string
	Spec string // cron spec, e.g. "@every 1s" or "@monthly"
	Run  func(ctx context.Context)
}

// Every returns the spec for a fixed interval. cron schedules in whole
// seconds, with a minimum of one.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Scheduler manages scheduled jobs. A run still in progress when its next
// tick fires is skipped, and a panicking run is recovered.
type Scheduler struct {
	jobs    []Job
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	entries map[string]cron.EntryID
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for jobs in loc. A nil loc means local time.
func NewScheduler(loc *time.Location, jobs ...Job) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := logging.WithComponent("scheduler")
	cl := cronLogger{log: logger}
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		entries: make(map[string]cron.EntryID, len(jobs)),
		logger:  logger,
	}
}

// Start registers every job and begins the scheduler. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	for _, job := range s.jobs {
		entryID, err := s.cron.AddFunc(job.Spec, func() {
			if ctx.Err() != nil {
				return
			}
			job.Run(ctx)
		})
		if err != nil {
			for _, id := range s.entries {
				s.cron.Remove(id)
			}
			s.entries = make(map[string]cron.EntryID, len(s.jobs))
			return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
		}
		s.entries[job.Name] = entryID
	}

	s.cron.Start()
	s.running = true

	for _, job := range s.jobs {
		s.logger.Info("job scheduled",
			slog.String("job", job.Name),
			slog.String("schedule", job.Spec),
			slog.Time("next_run", s.cron.Entry(s.entries[job.Name]).Next),
		)
	}
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// NextRun returns the next scheduled run of the named job, or zero when the
// job is unknown or the scheduler is stopped.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !s.running || !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			job.Run(ctx)
			return nil
		}
	}
	return fmt.Errorf("unknown job: %s", name)
}

// JobStatus holds scheduling information for one job
type JobStatus struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// Status returns one entry per job, in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		st := JobStatus{Name: job.Name, Schedule: job.Spec}
		if id, ok := s.entries[job.Name]; ok && s.running {
			entry := s.cron.Entry(id)
			st.NextRun = entry.Next
			st.LastRun = entry.Prev
		}
		out = append(out, st)
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
