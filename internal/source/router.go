package source

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalConfig selects the backend used for the local machine
type LocalConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // file or sqlite
	Path string `mapstructure:"path" yaml:"path"`
}

// Config holds the settings of every backend
type Config struct {
	Local     LocalConfig   `mapstructure:"local" yaml:"local"`
	MongoDB   MongoConfig   `mapstructure:"mongodb" yaml:"mongodb"`
	SQL       SQLConfig     `mapstructure:"sql" yaml:"sql"`
	SurrealDB SurrealConfig `mapstructure:"surrealdb" yaml:"surrealdb"`
	Agent     AgentConfig   `mapstructure:"agent" yaml:"agent"`
}

// Kind is the backend a host identifier resolves to.
type Kind int

const (
	KindLocal Kind = iota
	KindMongo
	KindSQL
	KindSurreal
	KindAgent
)

// Router opens the right Client for a host identifier. Circuit breakers
// and the agent HTTP client outlive single cycles.
type Router struct {
	mu         sync.Mutex
	cfg        Config
	hostname   string
	httpClient *http.Client
	breakers   map[string]*CircuitBreaker
	logger     *zap.Logger
}

// NewRouter creates a new host router
func NewRouter(cfg Config, logger *zap.Logger) (*Router, error) {
	r := &Router{
		hostname: getHostname(),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
	if err := r.Configure(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Configure applies new backend settings from the next Open on.
func (r *Router) Configure(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.httpClient == nil || cfg.Agent != r.cfg.Agent {
		client, err := NewAgentHTTPClient(cfg.Agent)
		if err != nil {
			return err
		}
		r.httpClient = client
		r.breakers = make(map[string]*CircuitBreaker)
	}
	r.cfg = cfg
	return nil
}

// IsLocal reports whether host names the machine the collector runs on.
func (r *Router) IsLocal(host string) bool {
	switch strings.ToLower(host) {
	case "", ".", "localhost":
		return true
	}
	return strings.EqualFold(host, r.hostname)
}

// KindOf classifies a host identifier.
func (r *Router) KindOf(host string) Kind {
	lower := strings.ToLower(host)
	switch {
	case r.IsLocal(host):
		return KindLocal
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return KindMongo
	case strings.HasPrefix(lower, "sqlite:"), strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindSQL
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return KindSurreal
	default:
		return KindAgent
	}
}

// Open connects to host. ctx bounds the connection attempt.
func (r *Router) Open(ctx context.Context, host string) (Client, error) {
	r.mu.Lock()
	cfg := r.cfg
	httpClient := r.httpClient
	r.mu.Unlock()

	switch r.KindOf(host) {
	case KindLocal:
		return r.openLocal(ctx, cfg.Local)
	case KindMongo:
		return OpenMongo(ctx, host, cfg.MongoDB, r.logger)
	case KindSQL:
		return OpenSQL(ctx, host, cfg.SQL, r.logger)
	case KindSurreal:
		return OpenSurreal(ctx, host, cfg.SurrealDB, r.logger)
	default:
		baseURL := agentBaseURL(host, cfg.Agent)
		return NewAgentClient(baseURL, httpClient, cfg.Agent.Token, cfg.Agent.MaxRetries,
			r.breakerFor(baseURL, cfg.Agent), r.logger), nil
	}
}

func (r *Router) openLocal(ctx context.Context, cfg LocalConfig) (Client, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "file":
		return NewFileClient(cfg.Path, r.logger)
	case "sqlite":
		return OpenSQL(ctx, "sqlite:"+cfg.Path, SQLConfig{}, r.logger)
	default:
		return nil, fmt.Errorf("unsupported local source type %q", cfg.Type)
	}
}

func (r *Router) breakerFor(key string, cfg AgentConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	cb := NewCircuitBreaker(threshold, timeout)
	r.breakers[key] = cb
	return cb
}

// agentBaseURL expands a bare host name into the agent's base URL.
func agentBaseURL(host string, cfg AgentConfig) string {
	lower := strings.ToLower(host)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return strings.TrimRight(host, "/")
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return scheme + "://" + host
	}

	port := cfg.Port
	if port == 0 {
		port = 8443
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}
