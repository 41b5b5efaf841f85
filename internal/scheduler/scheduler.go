// Package scheduler drives the pipeline on a fixed interval: one synchronous
// run at startup, then cron-triggered runs until the context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a job once immediately and then on a fixed interval.
type Scheduler struct {
	interval time.Duration
	job      func()
}

// New creates a Scheduler for the given interval and job.
func New(interval time.Duration, job func()) *Scheduler {
	return &Scheduler{interval: interval, job: job}
}

// Run blocks until ctx is cancelled. The job runs once synchronously before
// the interval schedule starts; cron runs are serial because the pipeline is
// deliberately single-threaded.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("Running initial cycle, then every %v", s.interval)
	s.job()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.job); err != nil {
		return fmt.Errorf("scheduling cycle: %w", err)
	}
	c.Start()

	<-ctx.Done()
	log.Println("Shutting down scheduler")

	// Stop returns a context that is done once running jobs finish.
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}
