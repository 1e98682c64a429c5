package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oicur0t/logcollect/internal/output"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewProviderAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "hosts: web-01\n")

	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	cfg := p.Current()
	assert.Equal(t, "web-01", cfg.Hosts)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, ";", cfg.Output.CSVDelimiter)
	assert.Equal(t, "10MB", cfg.Output.MaxSize)
	assert.Equal(t, 8443, cfg.Sources.Agent.Port)
	assert.Equal(t, "file", cfg.Sources.Local.Type)
}

func TestNewProviderFailsWithoutFile(t *testing.T) {
	_, err := NewProvider(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestNestedDefaultsSurvivePartialSection(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
sources:
  agent:
    scheme: http
`)
	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	cfg := p.Current()
	assert.Equal(t, "http", cfg.Sources.Agent.Scheme)
	assert.Equal(t, 8443, cfg.Sources.Agent.Port)
	assert.Equal(t, time.Minute, cfg.Sources.Agent.BreakerTimeout)
}

func TestInvalidValuesFallBackToDefaultsOnFirstLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
interval: soon
concurrency: 0
output:
  format: xml
  keep: -2
  csv_delimiter: "ab"
`)
	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	cfg := p.Current()
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 0, cfg.Output.Keep)
	assert.Equal(t, ";", cfg.Output.CSVDelimiter)
}

func TestReloadKeepsLastGoodPerField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
interval: 1m
output:
  rotation: daily
  keep: 3
`)
	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	writeConfig(t, dir, `
interval: -5s
output:
  rotation: weekly
  keep: 7
`)
	cfg, err := p.Reload()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, "daily", cfg.Output.Rotation)
	assert.Equal(t, 7, cfg.Output.Keep)
}

func TestReloadKeepsConfigWhenFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "hosts: web-01\n")
	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	cfg, err := p.Reload()
	assert.Error(t, err)
	assert.Equal(t, "web-01", cfg.Hosts)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("LOGCOLLECT_OUTPUT_PATH", "/tmp/from-env.txt")
	path := writeConfig(t, t.TempDir(), "output:\n  path: /tmp/from-file.txt\n")

	p, err := NewProvider(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.txt", p.Current().Output.Path)
}

func TestSettingsAndOutputOptions(t *testing.T) {
	cfg := DefaultCollectorConfig()
	cfg.Hosts = "web-01;web-02"
	cfg.MaxLevel = 3
	cfg.Output.Format = "csv"
	cfg.Output.Rotation = "size"
	cfg.Output.MaxSize = "2KB"
	cfg.Output.Keep = 4

	s := cfg.Settings()
	assert.Equal(t, models.LevelWarning, s.MaxLevel)
	assert.Equal(t, "web-01;web-02", s.Hosts)

	opts, err := cfg.OutputOptions()
	require.NoError(t, err)
	assert.Equal(t, output.ModeSize, opts.Policy.Mode)
	assert.Equal(t, int64(2048), opts.Policy.MaxSize)
	assert.Equal(t, "CollectedEvents.csv", opts.Policy.Path)
	assert.Equal(t, 4, opts.Policy.Keep)
	assert.True(t, opts.Formatter.IncludeHost)
	assert.Equal(t, output.FormatCSV, opts.Formatter.Format)

	cfg.Hosts = "web-01;WEB-01"
	cfg.MaxLevel = 0
	cfg.Output.Rotation = "512"
	opts, err = cfg.OutputOptions()
	require.NoError(t, err)
	assert.False(t, opts.Formatter.IncludeHost)
	assert.Equal(t, int64(512*1024), opts.Policy.MaxSize)
	assert.Equal(t, models.Unbounded, cfg.Settings().MaxLevel)
}

func TestDiffReportsChangedKeys(t *testing.T) {
	old := DefaultCollectorConfig()
	cfg := DefaultCollectorConfig()
	cfg.Output.Keep = 9
	cfg.Interval = time.Minute
	cfg.Sources.Agent.Token = "secret"

	changes := Diff(old, cfg)
	require.Len(t, changes, 2)
	assert.Equal(t, Change{Key: "interval", Old: "5m0s", New: "1m0s"}, changes[0])
	assert.Equal(t, "output.keep", changes[1].Key)
}
