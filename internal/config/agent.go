package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/mtls"
	"github.com/spf13/viper"
)

// HTTPServerConfig holds HTTP server settings
type HTTPServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address" yaml:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	TokenHash string `mapstructure:"token_hash" yaml:"-"`
}

// AgentSourceConfig selects the backend an agent exposes. Host is a host
// identifier as understood by the collector; empty means the local backend.
type AgentSourceConfig struct {
	Host      string               `mapstructure:"host" yaml:"host"`
	Local     source.LocalConfig   `mapstructure:"local" yaml:"local"`
	MongoDB   source.MongoConfig   `mapstructure:"mongodb" yaml:"mongodb"`
	SQL       source.SQLConfig     `mapstructure:"sql" yaml:"sql"`
	SurrealDB source.SurrealConfig `mapstructure:"surrealdb" yaml:"surrealdb"`
}

// AgentConfig represents the complete agent configuration
type AgentConfig struct {
	Server    HTTPServerConfig   `mapstructure:"server" yaml:"server"`
	MTLS      mtls.ServerOptions `mapstructure:"mtls" yaml:"mtls"`
	Auth      AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Source    AgentSourceConfig  `mapstructure:"source" yaml:"source"`
	LogLevel  string             `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string             `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string             `mapstructure:"log_file" yaml:"log_file"`
}

// SourceConfig returns the router configuration for the exposed backend
func (c *AgentConfig) SourceConfig() source.Config {
	return source.Config{
		Local:     c.Source.Local,
		MongoDB:   c.Source.MongoDB,
		SQL:       c.Source.SQL,
		SurrealDB: c.Source.SurrealDB,
	}
}

// LoadAgentConfig loads the agent configuration from a file
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8443")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.query_timeout", "30s")
	v.SetDefault("mtls.enabled", true)
	v.SetDefault("mtls.client_auth", "require")
	v.SetDefault("auth.token_hash", "")
	v.SetDefault("source.host", "")
	v.SetDefault("source.local.type", "file")
	v.SetDefault("source.local.path", "/var/log/logcollect")
	v.SetDefault("source.mongodb.database", "logs")
	v.SetDefault("source.mongodb.collection_prefix", "logs_")
	v.SetDefault("source.surrealdb.namespace", "logs")
	v.SetDefault("source.surrealdb.database", "logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AgentConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.MTLS.Enabled {
		if config.MTLS.ServerCert == "" || config.MTLS.ServerKey == "" {
			return nil, fmt.Errorf("server certificate and key are required when mTLS is enabled")
		}
		if config.MTLS.CACert == "" && !strings.EqualFold(config.MTLS.ClientAuth, "none") {
			return nil, fmt.Errorf("mtls.ca_cert is required unless client_auth is none")
		}
	}
	if config.Auth.TokenHash != "" && !strings.HasPrefix(config.Auth.TokenHash, "$2") {
		return nil, fmt.Errorf("auth.token_hash must be a bcrypt hash")
	}

	return &config, nil
}
