package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/models"
)

// FakeClient is an in-memory source.Client. Query applies the window and
// level filter the way real backends do.
type FakeClient struct {
	mu        sync.Mutex
	logs      map[string][]models.EventRecord
	queryErrs map[string]error
	namesErr  error
	delay     time.Duration
	queries   []string
	closed    bool
}

// NewFakeClient creates an empty fake client
func NewFakeClient() *FakeClient {
	return &FakeClient{
		logs:      make(map[string][]models.EventRecord),
		queryErrs: make(map[string]error),
	}
}

// AddRecords appends records to logName, creating the log if needed
func (c *FakeClient) AddRecords(logName string, records ...models.EventRecord) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[logName] = append(c.logs[logName], records...)
	return c
}

// FailQuery makes queries of logName return err
func (c *FakeClient) FailQuery(logName string, err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryErrs[logName] = err
	return c
}

// FailLogNames makes enumeration return err
func (c *FakeClient) FailLogNames(err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namesErr = err
	return c
}

// SetDelay makes every query block for d or until ctx is done
func (c *FakeClient) SetDelay(d time.Duration) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
	return c
}

func (c *FakeClient) LogNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.namesErr != nil {
		return nil, c.namesErr
	}
	names := make([]string, 0, len(c.logs))
	for name := range c.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *FakeClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	c.mu.Lock()
	c.queries = append(c.queries, logName)
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.queryErrs[logName]; err != nil {
		return nil, err
	}
	all, ok := c.logs[logName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownLog, logName)
	}

	var out []models.EventRecord
	for _, rec := range all {
		if window.Contains(rec.CreatedAt) && maxLevel.Admits(rec.Level) {
			rec.LogName = logName
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// GetQueries returns the log names queried so far, in call order
func (c *FakeClient) GetQueries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// IsClosed reports whether Close was called
func (c *FakeClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeOpener hands out FakeClients by host identifier.
type FakeOpener struct {
	mu       sync.Mutex
	clients  map[string]*FakeClient
	openErrs map[string]error
	opened   []string
}

// NewFakeOpener creates an opener with no hosts
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{
		clients:  make(map[string]*FakeClient),
		openErrs: make(map[string]error),
	}
}

// Host returns the fake client for host, creating it on first use
func (o *FakeOpener) Host(host string) *FakeClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.clients[host]
	if !ok {
		c = NewFakeClient()
		o.clients[host] = c
	}
	return c
}

// FailOpen makes opening host return err
func (o *FakeOpener) FailOpen(host string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErrs[host] = err
}

func (o *FakeOpener) Open(ctx context.Context, host string) (source.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = append(o.opened, host)
	if err := o.openErrs[host]; err != nil {
		return nil, err
	}
	c, ok := o.clients[host]
	if !ok {
		return nil, fmt.Errorf("failed to connect to %s: no such host", host)
	}
	return c, nil
}

// GetOpened returns the hosts opened so far
func (o *FakeOpener) GetOpened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}
