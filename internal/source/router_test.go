package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouterKindOf(t *testing.T) {
	r, err := NewRouter(Config{}, zap.NewNop())
	require.NoError(t, err)

	cases := map[string]Kind{
		"":                          KindLocal,
		".":                         KindLocal,
		"LOCALHOST":                 KindLocal,
		r.hostname:                  KindLocal,
		"mongodb://db:27017":        KindMongo,
		"sqlite:/var/log/events.db": KindSQL,
		"postgres://u@db/logs":      KindSQL,
		"ws://surreal:8000/rpc":     KindSurreal,
		"web-01":                    KindAgent,
		"https://web-02:9000":       KindAgent,
	}
	for host, want := range cases {
		assert.Equal(t, want, r.KindOf(host), host)
	}
}

func TestAgentBaseURL(t *testing.T) {
	cfg := AgentConfig{}
	assert.Equal(t, "https://web-01:8443", agentBaseURL("web-01", cfg))
	assert.Equal(t, "https://web-01:9000", agentBaseURL("web-01:9000", cfg))
	assert.Equal(t, "http://web-01:80", agentBaseURL("http://web-01:80/", cfg))

	cfg = AgentConfig{Scheme: "http", Port: 7000}
	assert.Equal(t, "http://web-01:7000", agentBaseURL("web-01", cfg))
}

func TestRouterOpensLocalFileSource(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Config{Local: LocalConfig{Type: "file", Path: dir}}, zap.NewNop())
	require.NoError(t, err)

	c, err := r.Open(context.Background(), "localhost")
	require.NoError(t, err)
	_, ok := c.(*FileClient)
	assert.True(t, ok)

	require.NoError(t, r.Configure(Config{Local: LocalConfig{Type: "bogus", Path: dir}}))
	_, err = r.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestRouterSharesBreakerPerHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewRouter(Config{Agent: AgentConfig{
		MaxRetries:       0,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
	}}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c, err := r.Open(context.Background(), srv.URL)
		require.NoError(t, err)
		_, err = c.LogNames(context.Background())
		assert.Error(t, err)
	}

	c, err := r.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = c.LogNames(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}
