package source

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
)

var (
	// ErrUnknownLog is returned when a queried log does not exist on the host.
	ErrUnknownLog = errors.New("unknown log")

	// ErrCircuitOpen is returned while a host's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open, host may be down")
)

// Client reads records from the logs of one host.
type Client interface {
	// LogNames lists the logs available on the host.
	LogNames(ctx context.Context) ([]string, error)

	// Query returns the records of logName created inside window whose
	// level passes maxLevel. A record whose description cannot be rendered
	// is returned with a sentinel body, never dropped.
	Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error)

	Close() error
}

// Opener connects to a host.
type Opener interface {
	Open(ctx context.Context, host string) (Client, error)
}

// DisplayHost is the host identifier written to output and logs. Userinfo
// is stripped from URL-style hosts.
func DisplayHost(host string) string {
	if !strings.Contains(host, "://") {
		return host
	}
	u, err := url.Parse(host)
	if err != nil || u.User == nil {
		return host
	}
	u.User = nil
	return u.String()
}

// keep reports whether a record belongs in the result of a query. A record
// standing in for an unreadable entry has no level, so only the window
// applies to it.
func keep(rec models.EventRecord, failed bool, window models.Window, maxLevel models.Level) bool {
	return window.Contains(rec.CreatedAt) && (failed || maxLevel.Admits(rec.Level))
}

// timeOr returns t, or fallback when the source supplied no usable
// timestamp. Backends that filter by time pass the window end, so such a
// record still sorts inside the cycle that returned it.
func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// parseTimeString accepts the timestamp layouts sources commonly emit.
func parseTimeString(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	}

	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// unixTime interprets f as seconds, or milliseconds when it is too large
// to be a plausible second count.
func unixTime(f float64) time.Time {
	if f > 1e12 || f < -1e12 {
		return time.UnixMilli(int64(f))
	}
	sec := math.Floor(f)
	return time.Unix(int64(sec), int64((f-sec)*1e9))
}
