package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/logger"
)

// DefaultGrace is used when Config.Grace is zero
const DefaultGrace = 60 * time.Second

// IntervalScheduler implements periodic scheduling using time.Ticker
type IntervalScheduler struct {
	config Config
	job    Job

	// Runtime state
	mu          sync.RWMutex
	running     bool
	stopped     bool      // Track if stopped to prevent restart
	stopOnce    sync.Once // Ensure Stop() is idempotent
	closeOnce   sync.Once // Ensure stoppedChan is closed exactly once
	stopChan    chan struct{}
	stoppedChan chan struct{}
	cancel      context.CancelFunc // forces a running job to abort

	// Statistics
	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, job Job) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}

	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}

	if config.Grace <= 0 {
		config.Grace = DefaultGrace
	}

	return &IntervalScheduler{
		config:      config,
		job:         job,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)

	go s.run(jobCtx)

	return nil
}

// run is the main scheduling loop
func (s *IntervalScheduler) run(ctx context.Context) {
	// Ensure stoppedChan is closed exactly once and stopped flag is set
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

// execute runs the job once and records the outcome
func (s *IntervalScheduler) execute(ctx context.Context) {
	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	s.mu.Unlock()

	err := s.job.Run(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logger.Get().Warn("Scheduled job failed", "scheduler", s.config.Name, "error", err)
	}
}

// Stop asks the loop to finish and waits up to Grace for a running job. If the
// job is still busy it is cancelled and given another Grace; after that Stop
// gives up with domain.ErrStopTimeout and the loop is left to exit on its own.
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running && !s.stopped {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	cancel := s.cancel
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	select {
	case <-s.stoppedChan:
		s.markStopped(cancel)
		return nil
	case <-time.After(s.config.Grace):
	}

	logger.Get().Warn("Scheduler did not stop in time, cancelling running job",
		"scheduler", s.config.Name, "grace", s.config.Grace)
	if cancel != nil {
		cancel()
	}

	select {
	case <-s.stoppedChan:
		s.markStopped(nil)
		return nil
	case <-time.After(s.config.Grace):
		return fmt.Errorf("scheduler %s: %w", s.config.Name, domain.ErrStopTimeout)
	}
}

func (s *IntervalScheduler) markStopped(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
	}
}
