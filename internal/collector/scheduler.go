package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("collection cycle already in progress")

// Cycler runs a single collection cycle.
type Cycler interface {
	RunCycle(ctx context.Context, start, end time.Time) *CycleReport
}

// Scheduler runs cycles back to back on an interval. Each window starts
// where the previous one ended, so no record is collected twice or missed.
type Scheduler struct {
	cycler   Cycler
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	interval time.Duration

	// BeforeCycle, when set, runs before every scheduled cycle. It is the
	// place to reload configuration; it may return a new interval, or zero
	// to keep the current one.
	BeforeCycle func() time.Duration

	mu      sync.Mutex
	running bool
	lastEnd time.Time
	last    *CycleReport
}

// NewScheduler creates a scheduler whose first window starts at start
func NewScheduler(cycler Cycler, interval time.Duration, start time.Time, metrics *Metrics, logger *zap.Logger) *Scheduler {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Scheduler{
		cycler:   cycler,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		interval: interval,
		lastEnd:  start,
	}
}

// Tick runs one cycle over (end of previous cycle, now]. It returns
// ErrCycleInProgress instead of overlapping a running cycle.
func (s *Scheduler) Tick(ctx context.Context) (*CycleReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.metrics.IncCyclesSkipped()
		return nil, ErrCycleInProgress
	}
	s.running = true
	start := s.lastEnd
	end := s.now()
	if end.Before(start) {
		end = start
	}
	s.mu.Unlock()

	report := s.cycler.RunCycle(ctx, start, end)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastEnd = end
	s.last = report
	return report, nil
}

// LastReport returns the report of the most recent cycle, or nil
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Interval returns the current tick interval
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run ticks until ctx is done. A cycle that overruns the interval delays
// the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.BeforeCycle != nil {
			if interval := s.BeforeCycle(); interval > 0 && interval != s.Interval() {
				s.mu.Lock()
				s.interval = interval
				s.mu.Unlock()
				ticker.Reset(interval)
				s.logger.Info("Collection interval changed", zap.Duration("interval", interval))
			}
		}

		if _, err := s.Tick(ctx); err != nil {
			s.logger.Warn("Skipping scheduled cycle", zap.Error(err))
		}
	}
}
