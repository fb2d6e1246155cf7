package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Scheduler runs jobs on their cron schedules
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewScheduler creates a scheduler. Overlapping runs of the same job are
// skipped and panics are recovered and logged.
func NewScheduler(logger *logrus.Logger, metrics *observability.Metrics) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		metrics: metrics,
	}
}

// Add schedules job
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		return fmt.Errorf("job %s has no schedule", job.Name)
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		_ = s.run(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	s.logger.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Schedule}).Info("Job scheduled")
	return nil
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx ends
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll runs every added job once, in order, and returns the joined errors
func (s *Scheduler) RunAll(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if err := s.run(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry := s.logger.WithField("job", job.Name)
	entry.Info("Job started")
	start := time.Now()

	n, err := job.Run(ctx)
	s.metrics.RecordBackgroundTask(err)

	entry = entry.WithFields(logrus.Fields{"affected": n, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("Job failed")
		return err
	}
	entry.Info("Job completed")
	return nil
}
