package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oicur0t/logcollect/internal/collector"
	"github.com/oicur0t/logcollect/internal/testutils"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type busyScheduler struct{}

func (busyScheduler) Tick(context.Context) (*collector.CycleReport, error) {
	return nil, collector.ErrCycleInProgress
}

func (busyScheduler) LastReport() *collector.CycleReport { return nil }

func newStatusServer(t *testing.T, s Scheduler, metrics *collector.Metrics) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewStatusHandler(s, metrics, zap.NewNop()).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusReportsLastCycle(t *testing.T) {
	opener := testutils.NewFakeOpener()
	opener.Host("").AddRecords("app", testutils.Record(time.Now().Add(-time.Second), 1, "x"))

	writer := &testutils.MemoryWriter{}
	metrics := &collector.Metrics{}
	c := collector.New(collector.Settings{MaxLevel: models.Unbounded, QueryTimeout: time.Second}, opener, writer, metrics, zap.NewNop())
	s := collector.NewScheduler(c, time.Hour, time.Now().Add(-time.Minute), metrics, zap.NewNop())
	srv := newStatusServer(t, s, metrics)

	resp, err := http.Post(srv.URL+"/v1/cycle", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.RecordsWritten)
	assert.Equal(t, 1, status.Metrics.CyclesRun)
	assert.Equal(t, 1, status.Metrics.RecordsWritten)
}

func TestRunCycleConflict(t *testing.T) {
	srv := newStatusServer(t, busyScheduler{}, &collector.Metrics{})

	resp, err := http.Post(srv.URL+"/v1/cycle", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/cycle")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
