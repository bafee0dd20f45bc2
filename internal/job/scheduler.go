package job

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs scheduled jobs with cron.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	source  func() ([]*Job, error)
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // job name → cron entry
}

// NewScheduler creates a scheduler. source is called on Start and Reload to
// fetch the current job definitions, typically by re-reading a directory.
func NewScheduler(runner *Runner, source func() ([]*Job, error), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:  runner,
		source:  source,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads all scheduled jobs and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSchedules(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
}

// Reload clears all cron entries and loads the jobs again.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

// Scheduled returns the names of the registered jobs.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// loadSchedules adds every job with a schedule. Jobs whose schedule cron
// rejects are logged and skipped.
func (s *Scheduler) loadSchedules(ctx context.Context) error {
	jobs, err := s.source()
	if err != nil {
		return err
	}

	for _, j := range jobs {
		if j.Schedule == "" {
			continue
		}
		job := j
		entryID, err := s.cron.AddFunc(job.Schedule, func() {
			if _, runErr := s.runner.Run(context.WithoutCancel(ctx), job); runErr != nil {
				s.logger.Warn("scheduled job failed",
					"job", job.Name,
					"error", runErr,
				)
			}
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"job", job.Name,
				"schedule", job.Schedule,
				"error", err,
			)
			continue
		}

		s.entries[job.Name] = entryID
		s.logger.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	}

	return nil
}
