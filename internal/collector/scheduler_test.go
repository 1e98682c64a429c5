package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingCycler struct {
	mu      sync.Mutex
	windows []models.Window
	block   chan struct{}
	entered chan struct{}
}

func (r *recordingCycler) RunCycle(ctx context.Context, start, end time.Time) *CycleReport {
	r.mu.Lock()
	r.windows = append(r.windows, models.Window{Start: start, End: end})
	r.mu.Unlock()

	select {
	case r.entered <- struct{}{}:
	default:
	}
	if r.block != nil {
		<-r.block
	}
	return &CycleReport{Window: models.Window{Start: start, End: end}}
}

func (r *recordingCycler) getWindows() []models.Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Window(nil), r.windows...)
}

func TestSchedulerChainsWindows(t *testing.T) {
	cycler := &recordingCycler{}
	s := NewScheduler(cycler, time.Minute, start, nil, zap.NewNop())

	clock := start
	s.now = func() time.Time { return clock }

	clock = start.Add(5 * time.Minute)
	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	clock = start.Add(11 * time.Minute)
	report, err := s.Tick(context.Background())
	require.NoError(t, err)

	windows := cycler.getWindows()
	require.Len(t, windows, 2)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, windows[0].End, windows[1].Start)
	assert.Equal(t, start.Add(11*time.Minute), windows[1].End)
	assert.Same(t, report, s.LastReport())
}

func TestSchedulerRejectsOverlappingCycles(t *testing.T) {
	cycler := &recordingCycler{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	metrics := &Metrics{}
	s := NewScheduler(cycler, time.Minute, start, metrics, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := s.Tick(context.Background())
		done <- err
	}()
	<-cycler.entered

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, 1, metrics.GetMetricsStamp().CyclesSkipped)

	close(cycler.block)
	require.NoError(t, <-done)
	assert.Len(t, cycler.getWindows(), 1)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	cycler := &recordingCycler{entered: make(chan struct{}, 10)}
	s := NewScheduler(cycler, 10*time.Millisecond, time.Now(), nil, zap.NewNop())

	var reloads int
	var mu sync.Mutex
	s.BeforeCycle = func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		reloads++
		return 5 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-cycler.entered
	<-cycler.entered
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 5*time.Millisecond, s.Interval())
	mu.Lock()
	assert.GreaterOrEqual(t, reloads, 2)
	mu.Unlock()
}
