package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/oicur0t/logcollect/pkg/mtls"
	"github.com/oicur0t/logcollect/pkg/retry"
	"go.uber.org/zap"
)

// AgentConfig holds settings for querying remote logcollect agents
type AgentConfig struct {
	Port             int                `mapstructure:"port" yaml:"port"`
	Scheme           string             `mapstructure:"scheme" yaml:"scheme"`
	Token            string             `mapstructure:"token" yaml:"-"`
	Timeout          time.Duration      `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries       int                `mapstructure:"max_retries" yaml:"max_retries"`
	BreakerThreshold int                `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration      `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
	MTLS             mtls.ClientOptions `mapstructure:"mtls" yaml:"mtls"`
}

// CircuitBreaker tracks consecutive failed requests to one agent. The
// Router keeps one per agent base URL for the life of the process, so an
// agent that is down is skipped quickly in every cycle instead of costing a
// full retry sequence per log. Once the timeout has passed since the
// breaker opened, a single trial request is let through; its outcome
// closes the breaker or opens it for another timeout.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration
	failures  int
	openedAt  time.Time
	trial     bool
	now       func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Allow reports whether a request may be sent now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures < cb.threshold {
		return true
	}
	if cb.trial || cb.now().Sub(cb.openedAt) < cb.timeout {
		return false
	}
	cb.trial = true
	return true
}

// RecordSuccess closes the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
}

// RecordFailure counts a failed request; reaching the threshold, or
// failing the trial request, (re)opens the breaker
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.trial = false
	if cb.failures >= cb.threshold {
		cb.openedAt = cb.now()
	}
}

// AgentClient queries the HTTP API of a remote agent
type AgentClient struct {
	baseURL     string
	httpClient  *http.Client
	token       string
	retryConfig retry.Config
	breaker     *CircuitBreaker
	logger      *zap.Logger
}

// NewAgentClient creates a client for the agent at baseURL
func NewAgentClient(baseURL string, httpClient *http.Client, token string, maxRetries int, breaker *CircuitBreaker, logger *zap.Logger) *AgentClient {
	retryConfig := retry.DefaultConfig()
	retryConfig.MaxRetries = maxRetries

	return &AgentClient{
		baseURL:     baseURL,
		httpClient:  httpClient,
		token:       token,
		retryConfig: retryConfig,
		breaker:     breaker,
		logger:      logger,
	}
}

// NewAgentHTTPClient builds the HTTP client shared by all agent hosts
func NewAgentHTTPClient(cfg AgentConfig) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if cfg.MTLS != (mtls.ClientOptions{}) {
		tlsConfig, err := mtls.LoadClientTLSConfig(cfg.MTLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

// LogNames lists the logs the agent exposes
func (c *AgentClient) LogNames(ctx context.Context) ([]string, error) {
	var list models.LogList
	if err := c.get(ctx, "/v1/logs", nil, &list); err != nil {
		return nil, err
	}
	sort.Strings(list.Logs)
	return list.Logs, nil
}

// Query fetches the records of one log inside the window
func (c *AgentClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	params := url.Values{}
	params.Set("after", window.Start.UTC().Format(time.RFC3339Nano))
	params.Set("until", window.End.UTC().Format(time.RFC3339Nano))
	if maxLevel != models.Unbounded {
		params.Set("max_level", strconv.Itoa(int(maxLevel)))
	}

	var page models.RecordPage
	if err := c.get(ctx, "/v1/logs/"+url.PathEscape(logName)+"/records", params, &page); err != nil {
		return nil, err
	}

	records := page.Records
	for i := range records {
		records[i].LogName = logName
		records[i].CreatedAt = timeOr(records[i].CreatedAt, window.End)
	}
	return records, nil
}

// Close releases idle connections
func (c *AgentClient) Close() error {
	return nil
}

// get performs a GET with retry, honouring the circuit breaker
func (c *AgentClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, c.baseURL)
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.doRequest(ctx, path, params, out)
	})

	if c.breaker != nil {
		// An unknown log is an answer from a healthy agent.
		if err == nil || errors.Is(err, ErrUnknownLog) {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}
	}
	return err
}

// doRequest makes a single HTTP request
func (c *AgentClient) doRequest(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Agent request failed", zap.String("url", target), zap.Error(err))
		if ctx.Err() != nil {
			return retry.Permanent(fmt.Errorf("request failed: %w", err))
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownLog, path))
	case resp.StatusCode >= 500:
		// Server error - retry
		return fmt.Errorf("agent error: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.Permanent(fmt.Errorf("agent rejected request: %d %s", resp.StatusCode, string(msg)))
	case resp.StatusCode != http.StatusOK:
		return retry.Permanent(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to decode agent response: %w", err))
	}
	return nil
}
