package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAgentClient(url string, retries int) *AgentClient {
	return NewAgentClient(url, http.DefaultClient, "secret", retries, NewCircuitBreaker(5, time.Minute), zap.NewNop())
}

func TestAgentClientQuery(t *testing.T) {
	var gotQuery, gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.RecordPage{
			LogName: "app",
			Records: []models.EventRecord{{CreatedAt: t0.Add(time.Second), ID: 9, Provider: "svc", Level: models.LevelWarning, Body: "hi"}},
		})
	}))
	defer srv.Close()

	c := newTestAgentClient(srv.URL, 0)
	recs, err := c.Query(context.Background(), "my log", models.Window{Start: t0, End: t0.Add(time.Minute)}, models.LevelWarning)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "my log", recs[0].LogName)
	assert.Equal(t, int64(9), recs[0].ID)
	assert.Equal(t, "/v1/logs/my%20log/records", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotQuery, "max_level=3")
	assert.Contains(t, gotQuery, "after=2024-05-01T12%3A00%3A00Z")
}

func TestAgentClientUnknownLogIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	c := newTestAgentClient(srv.URL, 3)
	_, err := c.Query(context.Background(), "app", models.Window{Start: t0, End: t0.Add(time.Minute)}, models.Unbounded)
	assert.ErrorIs(t, err, ErrUnknownLog)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, c.breaker.Allow())
}

func TestAgentClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(models.LogList{Logs: []string{"b", "a"}})
	}))
	defer srv.Close()

	c := newTestAgentClient(srv.URL, 2)
	names, err := c.LogNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAgentClientRejectedRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestAgentClient(srv.URL, 3)
	_, err := c.LogNames(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), hits.Load())
}

func TestCircuitBreakerOpensAndResets(t *testing.T) {
	now := t0
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	// One trial request once the timeout has passed.
	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())

	// A failed trial opens the breaker for another timeout.
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	now = now.Add(30 * time.Second)
	assert.False(t, cb.Allow())
	now = now.Add(30 * time.Second)
	assert.True(t, cb.Allow())

	// A successful trial closes it.
	cb.RecordSuccess()
	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
}

func TestAgentClientUnknownLogClosesBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	now := t0
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }
	cb.RecordFailure()

	c := NewAgentClient(srv.URL, http.DefaultClient, "", 0, cb, zap.NewNop())
	_, err := c.Query(context.Background(), "app", models.Window{Start: t0, End: t0.Add(time.Minute)}, models.Unbounded)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(time.Minute)
	_, err = c.Query(context.Background(), "app", models.Window{Start: t0, End: t0.Add(time.Minute)}, models.Unbounded)
	assert.ErrorIs(t, err, ErrUnknownLog)
	assert.True(t, cb.Allow())
}
