package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/models"
	"go.uber.org/zap"
)

// healthPath is served without authentication
const healthPath = "/v1/health"

// Handler serves the log sources of this host to collectors
type Handler struct {
	client       source.Client
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(client source.Client, queryTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		client:       client,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Routes registers the agent endpoints on mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/logs", h.ListLogs)
	mux.HandleFunc("GET /v1/logs/{name}/records", h.QueryRecords)
	mux.HandleFunc("GET "+healthPath, h.Health)
}

// ListLogs returns the names of the logs available on this host
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryContext(r.Context())
	defer cancel()

	names, err := h.client.LogNames(ctx)
	if err != nil {
		h.logger.Error("Failed to list logs", zap.Error(err))
		http.Error(w, "Failed to list logs", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, models.LogList{Logs: names})
}

// QueryRecords returns the records of one log created inside (after, until]
func (h *Handler) QueryRecords(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()

	after, err := time.Parse(time.RFC3339Nano, q.Get("after"))
	if err != nil {
		http.Error(w, "after must be an RFC3339 timestamp", http.StatusBadRequest)
		return
	}
	until, err := time.Parse(time.RFC3339Nano, q.Get("until"))
	if err != nil {
		http.Error(w, "until must be an RFC3339 timestamp", http.StatusBadRequest)
		return
	}
	if until.Before(after) {
		http.Error(w, "until must not be before after", http.StatusBadRequest)
		return
	}

	maxLevel := models.Unbounded
	if s := q.Get("max_level"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < int(models.LevelLogAlways) || n > int(models.LevelVerbose) {
			http.Error(w, "max_level must be between 0 and 5", http.StatusBadRequest)
			return
		}
		maxLevel = models.Level(n)
	}

	ctx, cancel := h.queryContext(r.Context())
	defer cancel()

	window := models.Window{Start: after, End: until}
	records, err := h.client.Query(ctx, name, window, maxLevel)
	if err != nil {
		if errors.Is(err, source.ErrUnknownLog) {
			http.Error(w, "Unknown log", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to query log", zap.String("log", name), zap.Error(err))
		http.Error(w, "Failed to query log", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.EventRecord{}
	}

	h.logger.Debug("Served records",
		zap.String("log", name),
		zap.Int("records", len(records)))

	writeJSON(w, http.StatusOK, models.RecordPage{
		LogName: name,
		Window:  window,
		Records: records,
	})
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.queryTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
