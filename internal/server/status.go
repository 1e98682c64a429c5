package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/oicur0t/logcollect/internal/collector"
	"go.uber.org/zap"
)

// Scheduler is the part of the collector scheduler the status API uses
type Scheduler interface {
	Tick(ctx context.Context) (*collector.CycleReport, error)
	LastReport() *collector.CycleReport
}

// StatusHandler exposes the collector's last cycle and counters
type StatusHandler struct {
	scheduler Scheduler
	metrics   *collector.Metrics
	logger    *zap.Logger
}

// StatusResponse is the body of GET /v1/status
type StatusResponse struct {
	LastCycle *collector.CycleReport `json:"last_cycle"`
	Metrics   collector.Metrics      `json:"metrics"`
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(scheduler Scheduler, metrics *collector.Metrics, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger,
	}
}

// Routes registers the status endpoints on mux
func (h *StatusHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", h.Status)
	mux.HandleFunc("POST /v1/cycle", h.RunCycle)
	mux.HandleFunc("GET "+healthPath, h.Health)
}

// Status returns the last cycle report and cumulative metrics
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		LastCycle: h.scheduler.LastReport(),
		Metrics:   h.metrics.GetMetricsStamp(),
	})
}

// RunCycle runs a collection cycle now, unless one is already running
func (h *StatusHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Tick(r.Context())
	if err != nil {
		if errors.Is(err, collector.ErrCycleInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("Failed to run cycle", zap.Error(err))
		http.Error(w, "Failed to run cycle", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health handles health check requests
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
