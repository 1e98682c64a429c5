package collector

import (
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
)

// HostReport counts the logs of one host for a cycle.
type HostReport struct {
	Host          string            `json:"host"`
	LogsSucceeded int               `json:"logs_succeeded"`
	LogsAttempted int               `json:"logs_attempted"`
	Records       int               `json:"records"`
	Error         string            `json:"error,omitempty"`
	FailedLogs    map[string]string `json:"failed_logs,omitempty"`
}

// CycleReport summarizes one collection cycle.
type CycleReport struct {
	ID               string                 `json:"id"`
	Window           models.Window          `json:"window"`
	StartedAt        time.Time              `json:"started_at"`
	Duration         time.Duration          `json:"duration"`
	RecordsCollected int                    `json:"records_collected"`
	RecordsWritten   int                    `json:"records_written"`
	Hosts            map[string]*HostReport `json:"hosts"`
	Cancelled        bool                   `json:"cancelled,omitempty"`
	WriteError       string                 `json:"write_error,omitempty"`
	Rotations        int                    `json:"rotations,omitempty"`
	PrunedFiles      int                    `json:"pruned_files,omitempty"`
	Files            []string               `json:"files,omitempty"`
}

func newCycleReport(id string, window models.Window) *CycleReport {
	return &CycleReport{
		ID:        id,
		Window:    window,
		StartedAt: time.Now(),
		Hosts:     make(map[string]*HostReport),
	}
}

func (h *HostReport) failLog(logName string, err error) {
	if h.FailedLogs == nil {
		h.FailedLogs = make(map[string]string)
	}
	h.FailedLogs[logName] = err.Error()
}
