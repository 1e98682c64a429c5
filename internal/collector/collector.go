package collector

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oicur0t/logcollect/internal/output"
	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchWriter persists the merged records of a cycle
type BatchWriter interface {
	WriteBatch(records []models.EventRecord) (output.BatchResult, error)
}

// Settings are the collection settings consulted at the start of each cycle
type Settings struct {
	Hosts        string
	Logs         string
	MaxLevel     models.Level
	QueryTimeout time.Duration
	Concurrency  int
}

// Collector runs collection cycles: resolve targets, query them, merge the
// results and hand them to the writer.
type Collector struct {
	mu       sync.Mutex
	settings Settings
	opener   source.Opener
	writer   BatchWriter
	metrics  *Metrics
	logger   *zap.Logger
}

// New creates a new collector
func New(settings Settings, opener source.Opener, writer BatchWriter, metrics *Metrics, logger *zap.Logger) *Collector {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Collector{
		settings: settings,
		opener:   opener,
		writer:   writer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Configure replaces the settings used from the next cycle on
func (c *Collector) Configure(settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = settings
}

// Metrics returns the cumulative counters
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// hostResult is what one host contributes to a cycle
type hostResult struct {
	report  HostReport
	records []models.EventRecord
}

// RunCycle collects the records created inside (start, end]. Cancelling ctx
// stops the cycle between targets; records already collected are still
// written.
func (c *Collector) RunCycle(ctx context.Context, start, end time.Time) *CycleReport {
	c.mu.Lock()
	settings := c.settings
	c.mu.Unlock()

	window := models.Window{Start: start, End: end}
	report := newCycleReport(uuid.NewString(), window)
	logger := c.logger.With(zap.String("cycle_id", report.ID))

	logger.Debug("Starting collection cycle",
		zap.Time("window_start", start),
		zap.Time("window_end", end))

	hosts := Hosts(settings.Hosts)
	resolver := NewResolver(c.opener, settings.QueryTimeout, logger)
	results := make([]hostResult, len(hosts))

	g := new(errgroup.Group)
	if settings.Concurrency > 0 {
		g.SetLimit(settings.Concurrency)
	}
	for i, host := range hosts {
		g.Go(func() error {
			results[i] = c.collectHost(ctx, resolver, host, settings, window, logger)
			return nil
		})
	}
	_ = g.Wait()

	// Merge in host order; within a host targets are already in log name
	// order, so the stable sort breaks timestamp ties by host then log.
	var merged []models.EventRecord
	for _, res := range results {
		merged = append(merged, res.records...)
		hr := res.report
		report.Hosts[hr.Host] = &hr
	}
	slices.SortStableFunc(merged, func(a, b models.EventRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	report.RecordsCollected = len(merged)
	report.Cancelled = ctx.Err() != nil

	if len(merged) > 0 {
		res, err := c.writer.WriteBatch(merged)
		report.RecordsWritten = res.Written
		report.Rotations = res.Rotations
		report.PrunedFiles = res.Pruned
		report.Files = res.Files
		if err != nil {
			report.WriteError = err.Error()
			var werr *output.WriteError
			if errors.As(err, &werr) {
				logger.Error("Failed to write records, remaining writes skipped",
					zap.String("path", werr.Path),
					zap.String("op", werr.Op),
					zap.Int("written", res.Written),
					zap.Int("collected", len(merged)),
					zap.Error(werr.Err))
			} else {
				logger.Error("Failed to write records", zap.Error(err))
			}
		}
	}

	report.Duration = time.Since(report.StartedAt)
	c.metrics.Observe(report)

	for _, res := range results {
		hr := res.report
		logger.Info("Host collection summary",
			zap.String("host", hr.Host),
			zap.Int("records", hr.Records),
			zap.Int("logs_succeeded", hr.LogsSucceeded),
			zap.Int("logs_attempted", hr.LogsAttempted),
			zap.Int("logs_failed", len(hr.FailedLogs)))
	}
	logger.Info("Collection cycle finished",
		zap.Int("records_written", report.RecordsWritten),
		zap.Int("records_collected", report.RecordsCollected),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("duration", report.Duration))

	return report
}

// collectHost queries every log of one host in order. A failure for one log
// is recorded and the next log is still queried.
func (c *Collector) collectHost(ctx context.Context, resolver *Resolver, host string, settings Settings, window models.Window, logger *zap.Logger) hostResult {
	display := source.DisplayHost(host)
	res := hostResult{report: HostReport{Host: display}}
	logger = logger.With(zap.String("host", display))

	if ctx.Err() != nil {
		return res
	}

	ht := resolver.ResolveHost(ctx, host, settings.Logs)
	if ht.Err != nil {
		logger.Warn("Skipping host for this cycle", zap.Error(ht.Err))
		res.report.Error = ht.Err.Error()
		return res
	}
	defer func() {
		if err := ht.Client.Close(); err != nil {
			logger.Debug("Failed to close source client", zap.Error(err))
		}
	}()

	for _, target := range ht.Targets {
		if ctx.Err() != nil {
			logger.Info("Cycle cancelled, skipping remaining logs", zap.String("log", target.LogName))
			break
		}
		res.report.LogsAttempted++

		records, err := c.query(ctx, ht.Client, target.LogName, window, settings)
		if err != nil {
			logger.Warn("Failed to query log",
				zap.String("log", target.LogName),
				zap.Error(err))
			res.report.failLog(target.LogName, err)
			continue
		}

		for i := range records {
			records[i].Host = display
			records[i].LogName = target.LogName
		}
		res.records = append(res.records, records...)
		res.report.LogsSucceeded++
		res.report.Records += len(records)
	}
	return res
}

// query runs one target query. The query is bounded by QueryTimeout but not
// by cycle cancellation, which only takes effect between targets.
func (c *Collector) query(ctx context.Context, client source.Client, logName string, window models.Window, settings Settings) ([]models.EventRecord, error) {
	qctx := context.WithoutCancel(ctx)
	if settings.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(qctx, settings.QueryTimeout)
		defer cancel()
	}
	return client.Query(qctx, logName, window, settings.MaxLevel)
}
