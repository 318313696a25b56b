package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/scheduler"
)

// Service periodically flushes every registered logger. One service runs per process.
type Service struct {
	mu      sync.Mutex
	loggers []*Logger

	sched *scheduler.IntervalScheduler
}

// NewService creates a flush service ticking every period. grace bounds Stop,
// see scheduler.IntervalScheduler.
func NewService(period, grace time.Duration) (*Service, error) {
	s := &Service{}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Name:     "activity-flush",
		Interval: period,
		Grace:    grace,
	}, scheduler.JobFunc(s.FlushAll))
	if err != nil {
		return nil, fmt.Errorf("flush scheduler: %w", err)
	}
	s.sched = sched
	return s, nil
}

// Register adds l to the periodic flush. Registering twice is a no-op.
func (s *Service) Register(l *Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.loggers {
		if existing == l {
			return
		}
	}
	s.loggers = append(s.loggers, l)
}

// Unregister removes l from the periodic flush
func (s *Service) Unregister(l *Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.loggers {
		if existing == l {
			s.loggers = append(s.loggers[:i], s.loggers[i+1:]...)
			return
		}
	}
}

// Registered returns the number of registered loggers
func (s *Service) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loggers)
}

// FlushAll flushes every registered logger and joins their errors.
// A failing logger keeps its records for the next round.
func (s *Service) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	loggers := make([]*Logger, len(s.loggers))
	copy(loggers, s.loggers)
	s.mu.Unlock()

	var errs []error
	for _, l := range loggers {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushRoot flushes the loggers registered for root
func (s *Service) FlushRoot(ctx context.Context, root string) error {
	s.mu.Lock()
	var loggers []*Logger
	for _, l := range s.loggers {
		if l.Root() == root {
			loggers = append(loggers, l)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, l := range loggers {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start begins the periodic flush
func (s *Service) Start(ctx context.Context) error {
	return s.sched.Start(ctx)
}

// Stop ends the periodic flush and flushes once more. A scheduler that does
// not stop in time is logged, not returned.
func (s *Service) Stop() error {
	if err := s.sched.Stop(); err != nil {
		if errors.Is(err, domain.ErrStopTimeout) {
			logger.Get().Warn("Flush service did not stop cleanly", "error", err)
		} else {
			logger.Get().Debug("Flush service was not running", "error", err)
		}
	}
	return s.FlushAll(context.Background())
}

// Status returns the scheduler statistics
func (s *Service) Status() *scheduler.Status {
	return s.sched.Status()
}
