package service

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic jobs (overdue sweep, outbox replay,
// reconciliation).  A job still running when its next tick comes is
// skipped for that tick.
type Scheduler struct {
	c       *cron.Cron
	timeout time.Duration
}

// NewScheduler returns a stopped Scheduler.  Each job run gets a context
// bounded by timeout.
func NewScheduler(loc *time.Location, timeout time.Duration) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{c: c, timeout: timeout}
}

// Add registers fn under name with a cron spec such as "@every 60s".
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("scheduler: %s failed: %v", name, err)
		}
	})
	return err
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.c.Start() }

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
