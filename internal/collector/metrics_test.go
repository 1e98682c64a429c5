package collector

import (
	"errors"
	"sync"
	"testing"

	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserve(t *testing.T) {
	m := &Metrics{}
	report := newCycleReport("id", models.Window{Start: start, End: start})
	report.RecordsWritten = 7
	report.Rotations = 1
	report.PrunedFiles = 2
	report.Hosts["a"] = &HostReport{Host: "a"}
	report.Hosts["a"].failLog("app", errors.New("boom"))
	report.Hosts["b"] = &HostReport{Host: "b", Error: "down"}

	m.Observe(report)
	m.Observe(&CycleReport{WriteError: "failed"})

	got := m.GetMetricsStamp()
	assert.Equal(t, 2, got.CyclesRun)
	assert.Equal(t, 1, got.CyclesFailed)
	assert.Equal(t, 7, got.RecordsWritten)
	assert.Equal(t, 1, got.Rotations)
	assert.Equal(t, 2, got.PrunedFiles)
	assert.Equal(t, 1, got.TargetFailures)
	assert.Equal(t, 1, got.HostFailures)
}

func TestMetricsConcurrentUpdates(t *testing.T) {
	m := &Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncCyclesSkipped()
				m.Observe(&CycleReport{RecordsWritten: 1})
			}
		}()
	}
	wg.Wait()

	got := m.GetMetricsStamp()
	assert.Equal(t, 1000, got.CyclesSkipped)
	assert.Equal(t, 1000, got.CyclesRun)
	assert.Equal(t, 1000, got.RecordsWritten)
}
