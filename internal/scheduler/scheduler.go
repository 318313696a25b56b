package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for periodic background work
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop stops the scheduler, waiting at most twice the grace period
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Name identifies the scheduler in logs
	Name string

	// Interval specifies the duration between runs
	Interval time.Duration

	// Grace is how long Stop waits for a running job before cancelling it,
	// and again after cancelling before giving up
	Grace time.Duration
}

// Job is the work a scheduler runs on every tick
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }
