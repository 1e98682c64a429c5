package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oicur0t/logcollect/internal/collector"
	"github.com/oicur0t/logcollect/internal/output"
	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// OutputConfig holds output file settings
type OutputConfig struct {
	Path         string `mapstructure:"path" yaml:"path"`
	Format       string `mapstructure:"format" yaml:"format"`
	Rotation     string `mapstructure:"rotation" yaml:"rotation"`
	MaxSize      string `mapstructure:"max_size" yaml:"max_size"`
	Keep         int    `mapstructure:"keep" yaml:"keep"`
	CSVDelimiter string `mapstructure:"csv_delimiter" yaml:"csv_delimiter"`
	TimeFormat   string `mapstructure:"time_format" yaml:"time_format"`
}

// StatusConfig holds the status endpoint settings
type StatusConfig struct {
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// CollectorConfig represents the complete collector configuration
type CollectorConfig struct {
	Hosts           string        `mapstructure:"hosts" yaml:"hosts"`
	Logs            string        `mapstructure:"logs" yaml:"logs"`
	MaxLevel        int           `mapstructure:"max_level" yaml:"max_level"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	InitialLookback time.Duration `mapstructure:"initial_lookback" yaml:"initial_lookback"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	Output          OutputConfig  `mapstructure:"output" yaml:"output"`
	Sources         source.Config `mapstructure:"sources" yaml:"sources"`
	Status          StatusConfig  `mapstructure:"status" yaml:"status"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
	LogFile         string        `mapstructure:"log_file" yaml:"log_file"`
}

// FieldError names a configuration key whose value was rejected.
type FieldError struct {
	Key string
	Err error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("invalid value for %s: %v", e.Key, e.Err)
}

func setCollectorDefaults(v *viper.Viper) {
	v.SetDefault("hosts", "")
	v.SetDefault("logs", "")
	v.SetDefault("max_level", 0)
	v.SetDefault("interval", "5m")
	v.SetDefault("initial_lookback", "0s")
	v.SetDefault("query_timeout", "30s")
	v.SetDefault("concurrency", 4)
	v.SetDefault("output.path", "")
	v.SetDefault("output.format", "text")
	v.SetDefault("output.rotation", "none")
	v.SetDefault("output.max_size", "10MB")
	v.SetDefault("output.keep", 0)
	v.SetDefault("output.csv_delimiter", ";")
	v.SetDefault("output.time_format", output.DefaultTimeLayout)
	v.SetDefault("sources.local.type", "file")
	v.SetDefault("sources.local.path", "/var/log/logcollect")
	v.SetDefault("sources.mongodb.database", "logs")
	v.SetDefault("sources.mongodb.collection_prefix", "logs_")
	v.SetDefault("sources.mongodb.max_pool_size", 10)
	v.SetDefault("sources.sql.max_open_conns", 4)
	v.SetDefault("sources.surrealdb.namespace", "logs")
	v.SetDefault("sources.surrealdb.database", "logs")
	v.SetDefault("sources.surrealdb.user", "")
	v.SetDefault("sources.surrealdb.pass", "")
	v.SetDefault("sources.mongodb.certificate_key_file", "")
	v.SetDefault("sources.agent.port", 8443)
	v.SetDefault("sources.agent.scheme", "https")
	v.SetDefault("sources.agent.token", "")
	v.SetDefault("sources.agent.timeout", "30s")
	v.SetDefault("sources.agent.max_retries", 2)
	v.SetDefault("sources.agent.breaker_threshold", 5)
	v.SetDefault("sources.agent.breaker_timeout", "60s")
	v.SetDefault("status.listen_address", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
}

// DefaultCollectorConfig returns the configuration used when a key is
// missing or invalid on first load.
func DefaultCollectorConfig() *CollectorConfig {
	v := viper.New()
	setCollectorDefaults(v)
	var cfg CollectorConfig
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// decodeKey decodes one key into dst, keeping prev when decoding or check fails.
func decodeKey[T any](v *viper.Viper, key string, dst *T, prev T, check func(T) error) *FieldError {
	var val T
	err := v.UnmarshalKey(key, &val)
	if err == nil && check != nil {
		err = check(val)
	}
	if err != nil {
		*dst = prev
		return &FieldError{Key: key, Err: err}
	}
	*dst = val
	return nil
}

// decodeCollector builds a configuration from v. Every key that fails to
// decode or validate keeps its value from prev.
func decodeCollector(v *viper.Viper, prev *CollectorConfig) (*CollectorConfig, []FieldError) {
	cfg := &CollectorConfig{}
	var errs []FieldError
	add := func(fe *FieldError) {
		if fe != nil {
			errs = append(errs, *fe)
		}
	}

	add(decodeKey(v, "hosts", &cfg.Hosts, prev.Hosts, nil))
	add(decodeKey(v, "logs", &cfg.Logs, prev.Logs, nil))
	add(decodeKey(v, "max_level", &cfg.MaxLevel, prev.MaxLevel, func(n int) error {
		if n > int(models.LevelVerbose) {
			return fmt.Errorf("must be at most %d", models.LevelVerbose)
		}
		return nil
	}))
	add(decodeKey(v, "interval", &cfg.Interval, prev.Interval, positiveDuration))
	add(decodeKey(v, "initial_lookback", &cfg.InitialLookback, prev.InitialLookback, func(d time.Duration) error {
		if d < 0 {
			return errors.New("must not be negative")
		}
		return nil
	}))
	add(decodeKey(v, "query_timeout", &cfg.QueryTimeout, prev.QueryTimeout, positiveDuration))
	add(decodeKey(v, "concurrency", &cfg.Concurrency, prev.Concurrency, func(n int) error {
		if n < 1 {
			return errors.New("must be at least 1")
		}
		return nil
	}))

	add(decodeKey(v, "output.path", &cfg.Output.Path, prev.Output.Path, nil))
	add(decodeKey(v, "output.format", &cfg.Output.Format, prev.Output.Format, func(s string) error {
		_, err := output.ParseFormat(s)
		return err
	}))
	add(decodeKey(v, "output.rotation", &cfg.Output.Rotation, prev.Output.Rotation, func(s string) error {
		_, _, err := output.ParseMode(s)
		return err
	}))
	add(decodeKey(v, "output.max_size", &cfg.Output.MaxSize, prev.Output.MaxSize, func(s string) error {
		_, err := ParseSize(s)
		return err
	}))
	add(decodeKey(v, "output.keep", &cfg.Output.Keep, prev.Output.Keep, func(n int) error {
		if n < 0 {
			return errors.New("must not be negative")
		}
		return nil
	}))
	add(decodeKey(v, "output.csv_delimiter", &cfg.Output.CSVDelimiter, prev.Output.CSVDelimiter, func(s string) error {
		if len(s) != 1 || strings.ContainsAny(s, "\"\r\n") {
			return errors.New("must be a single character other than a quote or newline")
		}
		return nil
	}))
	add(decodeKey(v, "output.time_format", &cfg.Output.TimeFormat, prev.Output.TimeFormat, func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("must not be empty")
		}
		return nil
	}))

	// Sections are decoded through Unmarshal so nested defaults are merged
	// in; unrelated keys are ignored by the decoder.
	var sources struct {
		Sources source.Config `mapstructure:"sources"`
	}
	if err := v.Unmarshal(&sources); err != nil {
		cfg.Sources = prev.Sources
		errs = append(errs, FieldError{Key: "sources", Err: err})
	} else {
		cfg.Sources = sources.Sources
	}

	var status struct {
		Status StatusConfig `mapstructure:"status"`
	}
	if err := v.Unmarshal(&status); err != nil {
		cfg.Status = prev.Status
		errs = append(errs, FieldError{Key: "status", Err: err})
	} else {
		cfg.Status = status.Status
	}

	add(decodeKey(v, "log_level", &cfg.LogLevel, prev.LogLevel, func(s string) error {
		var lvl zapcore.Level
		return lvl.UnmarshalText([]byte(s))
	}))
	add(decodeKey(v, "log_format", &cfg.LogFormat, prev.LogFormat, nil))
	add(decodeKey(v, "log_file", &cfg.LogFile, prev.LogFile, nil))

	return cfg, errs
}

func positiveDuration(d time.Duration) error {
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// HostList returns the configured hosts, deduplicated.
func (c *CollectorConfig) HostList() []string {
	return collector.Hosts(c.Hosts)
}

// Settings returns the collector settings for the next cycle
func (c *CollectorConfig) Settings() collector.Settings {
	return collector.Settings{
		Hosts:        c.Hosts,
		Logs:         c.Logs,
		MaxLevel:     models.CeilingFromInt(c.MaxLevel),
		QueryTimeout: c.QueryTimeout,
		Concurrency:  c.Concurrency,
	}
}

// OutputOptions returns the writer options. The host column is included
// when more than one host is configured.
func (c *CollectorConfig) OutputOptions() (output.Options, error) {
	format, err := output.ParseFormat(c.Output.Format)
	if err != nil {
		return output.Options{}, err
	}
	mode, sizeBytes, err := output.ParseMode(c.Output.Rotation)
	if err != nil {
		return output.Options{}, err
	}
	if mode == output.ModeSize && sizeBytes == 0 {
		if sizeBytes, err = ParseSize(c.Output.MaxSize); err != nil {
			return output.Options{}, err
		}
	}

	path := c.Output.Path
	if path == "" {
		path = format.DefaultPath()
	}

	return output.Options{
		Policy: output.Policy{
			Mode:     mode,
			Path:     path,
			MaxSize:  sizeBytes,
			Keep:     c.Output.Keep,
			Location: time.Local,
		},
		Formatter: output.Formatter{
			Format:      format,
			IncludeHost: len(c.HostList()) > 1,
			Delimiter:   c.Output.CSVDelimiter,
			TimeLayout:  c.Output.TimeFormat,
		},
	}, nil
}
