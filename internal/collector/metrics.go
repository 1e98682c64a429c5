package collector

import (
	"sync"
	"time"
)

// Metrics accumulates counters across cycles.
type Metrics struct {
	CyclesRun      int       `json:"cycles_run"`
	CyclesFailed   int       `json:"cycles_failed"`
	CyclesSkipped  int       `json:"cycles_skipped"`
	RecordsWritten int       `json:"records_written"`
	TargetFailures int       `json:"target_failures"`
	HostFailures   int       `json:"host_failures"`
	Rotations      int       `json:"rotations"`
	PrunedFiles    int       `json:"pruned_files"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	mu             sync.RWMutex
}

func (m *Metrics) IncCyclesSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesSkipped++
}

// Observe folds a finished cycle into the counters
func (m *Metrics) Observe(report *CycleReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CyclesRun++
	if report.WriteError != "" {
		m.CyclesFailed++
	}
	m.RecordsWritten += report.RecordsWritten
	m.Rotations += report.Rotations
	m.PrunedFiles += report.PrunedFiles
	m.LastCycleAt = report.StartedAt

	for _, h := range report.Hosts {
		if h.Error != "" {
			m.HostFailures++
		}
		m.TargetFailures += len(h.FailedLogs)
	}
}

// GetMetricsStamp returns a copy safe to read without locking
func (m *Metrics) GetMetricsStamp() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		CyclesRun:      m.CyclesRun,
		CyclesFailed:   m.CyclesFailed,
		CyclesSkipped:  m.CyclesSkipped,
		RecordsWritten: m.RecordsWritten,
		TargetFailures: m.TargetFailures,
		HostFailures:   m.HostFailures,
		Rotations:      m.Rotations,
		PrunedFiles:    m.PrunedFiles,
		LastCycleAt:    m.LastCycleAt,
	}
}
