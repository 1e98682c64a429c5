package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgentConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAgentConfig(t *testing.T) {
	path := writeAgentConfig(t, `
mtls:
  enabled: false
source:
  local:
    type: sqlite
    path: /var/lib/events.db
`)
	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8443", cfg.Server.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, "sqlite", cfg.SourceConfig().Local.Type)
	assert.Equal(t, "/var/lib/events.db", cfg.SourceConfig().Local.Path)
}

func TestLoadAgentConfigRequiresCertificates(t *testing.T) {
	_, err := LoadAgentConfig(writeAgentConfig(t, "mtls:\n  enabled: true\n"))
	assert.ErrorContains(t, err, "certificate")
}

func TestLoadAgentConfigRejectsPlainToken(t *testing.T) {
	_, err := LoadAgentConfig(writeAgentConfig(t, `
mtls:
  enabled: false
auth:
  token_hash: hunter2
`))
	assert.ErrorContains(t, err, "bcrypt")
}
