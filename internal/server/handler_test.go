package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/internal/testutils"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func newAgentServer(t *testing.T, client source.Client) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(client, time.Second, zap.NewNop()).Routes(mux)
	srv := httptest.NewServer(Chain(mux, RecoveryMiddleware(zap.NewNop())))
	t.Cleanup(srv.Close)
	return srv
}

func TestListLogs(t *testing.T) {
	fake := testutils.NewFakeClient().AddRecords("system").AddRecords("app")
	srv := newAgentServer(t, fake)

	resp, err := http.Get(srv.URL + "/v1/logs")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.LogList
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []string{"app", "system"}, list.Logs)
}

func TestQueryRecordsValidatesParameters(t *testing.T) {
	srv := newAgentServer(t, testutils.NewFakeClient().AddRecords("app"))

	cases := []string{
		"/v1/logs/app/records",
		"/v1/logs/app/records?after=yesterday&until=2024-07-01T09:00:00Z",
		"/v1/logs/app/records?after=2024-07-01T10:00:00Z&until=2024-07-01T09:00:00Z",
		"/v1/logs/app/records?after=2024-07-01T09:00:00Z&until=2024-07-01T10:00:00Z&max_level=9",
	}
	for _, path := range cases {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestQueryRecordsErrors(t *testing.T) {
	fake := testutils.NewFakeClient().
		AddRecords("broken").
		FailQuery("broken", errors.New("disk on fire"))
	srv := newAgentServer(t, fake)

	query := "?after=2024-07-01T09:00:00Z&until=2024-07-01T10:00:00Z"

	resp, err := http.Get(srv.URL + "/v1/logs/missing/records" + query)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/logs/broken/records" + query)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAgentRoundTrip(t *testing.T) {
	fake := testutils.NewFakeClient().AddRecords("app",
		testutils.RecordAtLevel(base, 1, models.LevelError),
		testutils.RecordAtLevel(base.Add(time.Second), 2, models.LevelError),
		testutils.RecordAtLevel(base.Add(2*time.Second), 3, models.LevelVerbose),
		testutils.RecordAtLevel(base.Add(time.Minute), 4, models.LevelWarning),
	)
	srv := newAgentServer(t, fake)

	client := source.NewAgentClient(srv.URL, srv.Client(), "", 0, nil, zap.NewNop())

	names, err := client.LogNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, names)

	recs, err := client.Query(context.Background(), "app",
		models.Window{Start: base, End: base.Add(time.Minute)}, models.LevelWarning)
	require.NoError(t, err)

	var ids []int64
	for _, rec := range recs {
		ids = append(ids, rec.ID)
		assert.Equal(t, "app", rec.LogName)
	}
	assert.Equal(t, []int64{2, 4}, ids)
	assert.True(t, recs[0].CreatedAt.Equal(base.Add(time.Second)))

	_, err = client.Query(context.Background(), "nope",
		models.Window{Start: base, End: base.Add(time.Minute)}, models.Unbounded)
	assert.ErrorIs(t, err, source.ErrUnknownLog)
}

func TestAgentRoundTripUnboundedIncludesUnknown(t *testing.T) {
	rec := testutils.Record(base.Add(time.Second), 1, "x")
	rec.Level = models.LevelUnknown
	fake := testutils.NewFakeClient().AddRecords("app", rec)
	srv := newAgentServer(t, fake)

	client := source.NewAgentClient(srv.URL, srv.Client(), "", 0, nil, zap.NewNop())
	recs, err := client.Query(context.Background(), "app",
		models.Window{Start: base, End: base.Add(time.Minute)}, models.Unbounded)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.LevelUnknown, recs[0].Level)
}
