package testutils

import (
	"time"

	"github.com/oicur0t/logcollect/internal/output"
	"github.com/oicur0t/logcollect/pkg/models"
)

// Record builds a record created at the given time
func Record(at time.Time, id int64, body string) models.EventRecord {
	return models.EventRecord{
		CreatedAt: at,
		ID:        id,
		Provider:  "test-provider",
		Level:     models.LevelInformational,
		Body:      body,
	}
}

// RecordAtLevel builds a record with an explicit level
func RecordAtLevel(at time.Time, id int64, level models.Level) models.EventRecord {
	rec := Record(at, id, level.String())
	rec.Level = level
	return rec
}

// Series builds n records spaced step apart, the first at start+step
func Series(n int, start time.Time, step time.Duration) []models.EventRecord {
	out := make([]models.EventRecord, n)
	for i := range out {
		out[i] = Record(start.Add(time.Duration(i+1)*step), int64(i+1), "event")
	}
	return out
}

// MemoryWriter collects written batches in memory.
type MemoryWriter struct {
	Batches [][]models.EventRecord
	Err     error
}

// Records returns all records written, in order
func (w *MemoryWriter) Records() []models.EventRecord {
	var out []models.EventRecord
	for _, b := range w.Batches {
		out = append(out, b...)
	}
	return out
}

// WriteBatch records the batch, or fails with Err without keeping it
func (w *MemoryWriter) WriteBatch(records []models.EventRecord) (output.BatchResult, error) {
	if w.Err != nil {
		return output.BatchResult{}, w.Err
	}
	w.Batches = append(w.Batches, append([]models.EventRecord(nil), records...))
	return output.BatchResult{Written: len(records)}, nil
}
