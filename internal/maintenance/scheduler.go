// Package maintenance runs snapshot store maintenance on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"integrity-scm/internal/integrity"
)

// Maintainer performs one maintenance pass.
type Maintainer interface {
	Maintain(existingJobs []string) (*integrity.MaintenanceResult, error)
}

// JobLister returns the names of the jobs that currently exist. It is called
// on every run so jobs removed from the configuration are noticed.
type JobLister func() ([]string, error)

// Scheduler triggers maintenance on a cron schedule. A run that is still in
// progress when the next one is due causes that one to be skipped.
type Scheduler struct {
	cron       *cron.Cron
	maintainer Maintainer
	jobs       JobLister
	logger     integrity.Logger

	mu   sync.Mutex
	runs int
	last *integrity.MaintenanceResult
}

// NewScheduler validates schedule (standard cron syntax or a descriptor such
// as "@daily") and registers the maintenance job. Call Start to begin.
func NewScheduler(schedule string, m Maintainer, jobs JobLister, logger integrity.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = integrity.NewNopLogger()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parsing maintenance schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		maintainer: m,
		jobs:       jobs,
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(); err != nil {
			s.logger.Error("scheduled maintenance failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("adding maintenance job: %w", err)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.logger.Info("maintenance scheduler started")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once a running
// maintenance pass has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("maintenance scheduler stopping")
	return s.cron.Stop()
}

// RunOnce performs a maintenance pass immediately.
func (s *Scheduler) RunOnce() (*integrity.MaintenanceResult, error) {
	existing, err := s.jobs()
	if err != nil {
		return nil, fmt.Errorf("listing configured jobs: %w", err)
	}
	res, err := s.maintainer.Maintain(existing)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.runs++
	s.last = res
	s.mu.Unlock()
	return res, nil
}

// Runs returns the number of completed passes and the result of the last one.
func (s *Scheduler) Runs() (int, *integrity.MaintenanceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.last
}
