// Package schedule repeats jobs on cron schedules, such as re-running a flow
// suite every 30 minutes against a long-lived device.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/devicelab-dev/touchflow/pkg/logger"
)

// Job is one scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler manages periodic jobs.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// New creates a scheduler. An empty timezone means local time.
// Overlapping runs of the same job are skipped, not queued.
func New(timezone string) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}

	cl := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:  context.Background(),
		jobs: make(map[string]cron.EntryID),
	}, nil
}

// Add registers job under name. spec is a five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func (s *Scheduler) Add(name, spec string, job Job) error {
	entryID, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		logger.Info("[schedule] Starting job: %s", name)
		start := time.Now()
		if err := job(ctx); err != nil {
			logger.Warn("[schedule] Job %s failed after %v: %v", name, time.Since(start), err)
			return
		}
		logger.Info("[schedule] Job %s completed in %v", name, time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = entryID
	s.mu.Unlock()
	logger.Info("[schedule] Added job: %s (schedule: %s)", name, spec)
	return nil
}

// Next returns the next activation of the named job, or the zero time if the
// job is unknown or the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	logger.Info("[schedule] Starting scheduler")
	s.cron.Start()
	<-ctx.Done()

	logger.Info("[schedule] Stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger routes cron's own messages to the touchflow log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("[schedule] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("[schedule] %s: %v %v", msg, err, keysAndValues)
}
