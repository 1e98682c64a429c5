package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/models"
	"go.uber.org/zap"
)

// SplitList splits a comma or semicolon separated setting, trimming
// entries and dropping empty ones.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Hosts expands the hosts setting. An empty setting means the local machine
// only, represented by the empty host. Duplicates are dropped
// case-insensitively, keeping the first spelling. Hosts that differ only in
// credentials are duplicates too, since reports and output name a host by
// its display form.
func Hosts(hostsConfig string) []string {
	hosts := SplitList(hostsConfig)
	if len(hosts) == 0 {
		return []string{""}
	}

	seen := make(map[string]struct{}, len(hosts))
	out := hosts[:0]
	for _, h := range hosts {
		key := strings.ToLower(source.DisplayHost(h))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// HostTargets is the resolved work for one host. Client is nil when Err is set.
type HostTargets struct {
	Host    string
	Client  source.Client
	Targets []models.Target
	Err     error
}

// Resolver turns configuration into the targets of a cycle.
type Resolver struct {
	opener  source.Opener
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver. timeout bounds connecting to a host and
// enumerating its logs.
func NewResolver(opener source.Opener, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{opener: opener, timeout: timeout, logger: logger}
}

// ResolveHost connects to host and lists the logs to query, sorted. With an
// explicit logs setting the names are used without checking they exist.
// ctx cancellation is not propagated into the connection attempt.
func (r *Resolver) ResolveHost(ctx context.Context, host, logsConfig string) HostTargets {
	res := HostTargets{Host: host}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	client, err := r.opener.Open(opCtx, host)
	if err != nil {
		res.Err = fmt.Errorf("failed to connect: %w", err)
		return res
	}

	names := SplitList(logsConfig)
	if len(names) == 0 {
		names, err = client.LogNames(opCtx)
		if err != nil {
			_ = client.Close()
			res.Err = fmt.Errorf("failed to enumerate logs: %w", err)
			return res
		}
	}

	names = sortedUnique(names)
	res.Client = client
	res.Targets = make([]models.Target, len(names))
	for i, name := range names {
		res.Targets[i] = models.Target{Host: host, LogName: name}
	}
	return res
}

// Resolve expands the whole configuration into targets, in host order then
// log name order. Hosts that cannot be resolved are returned in failed.
func (r *Resolver) Resolve(ctx context.Context, hostsConfig, logsConfig string) (targets []models.Target, failed map[string]error) {
	failed = make(map[string]error)
	for _, host := range Hosts(hostsConfig) {
		ht := r.ResolveHost(ctx, host, logsConfig)
		if ht.Err != nil {
			r.logger.Warn("Failed to resolve host",
				zap.String("host", source.DisplayHost(host)),
				zap.Error(ht.Err))
			failed[host] = ht.Err
			continue
		}
		_ = ht.Client.Close()
		targets = append(targets, ht.Targets...)
	}
	return targets, failed
}

func (r *Resolver) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if r.timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, r.timeout)
}

func sortedUnique(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)

	n := 0
	for i, name := range out {
		if i > 0 && name == out[n-1] {
			continue
		}
		out[n] = name
		n++
	}
	return out[:n]
}
