package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. LOGCOLLECT_OUTPUT_PATH.
const EnvPrefix = "LOGCOLLECT"

// Provider owns the collector configuration. It re-reads the file on
// demand and when the file changes; a value that fails validation keeps its
// last good value.
type Provider struct {
	mu      sync.Mutex
	v       *viper.Viper
	path    string
	current *CollectorConfig
	logger  *zap.Logger
}

func newCollectorViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setCollectorDefaults(v)
	return v
}

// NewProvider loads the configuration file. Failing to read the file at
// all is the only fatal configuration error.
func NewProvider(path string, logger *zap.Logger) (*Provider, error) {
	v := newCollectorViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	p := &Provider{v: v, path: path, logger: logger}
	cfg, errs := decodeCollector(v, DefaultCollectorConfig())
	p.warn(errs)
	p.current = cfg
	return p, nil
}

// SetLogger replaces the logger, once the real one has been built from
// the loaded configuration.
func (p *Provider) SetLogger(logger *zap.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// Current returns a copy of the current configuration
func (p *Provider) Current() *CollectorConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := *p.current
	return &cfg
}

// Reload re-reads the file. When the file cannot be read the current
// configuration is kept and the error returned.
func (p *Provider) Reload() (*CollectorConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.v.ReadInConfig(); err != nil {
		p.logger.Warn("Failed to re-read config file, keeping current configuration",
			zap.String("path", p.path),
			zap.Error(err))
		cfg := *p.current
		return &cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, errs := decodeCollector(p.v, p.current)
	p.warn(errs)
	p.logChanges(p.current, cfg)
	p.current = cfg

	out := *cfg
	return &out, nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done. The directory is watched so editors that replace the file are
// handled. onChange, when set, is called after each reload.
func (p *Provider) Watch(ctx context.Context, onChange func(*CollectorConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(p.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors often write in several steps.
			debounce = time.After(100 * time.Millisecond)

		case <-debounce:
			debounce = nil
			p.logger.Info("Config file changed, reloading", zap.String("path", p.path))
			cfg, err := p.Reload()
			if err == nil && onChange != nil {
				onChange(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (p *Provider) warn(errs []FieldError) {
	for _, fe := range errs {
		p.logger.Warn("Invalid configuration value, keeping previous value",
			zap.String("key", fe.Key),
			zap.Error(fe.Err))
	}
}

func (p *Provider) logChanges(old, cfg *CollectorConfig) {
	for _, change := range Diff(old, cfg) {
		p.logger.Info("Configuration changed",
			zap.String("key", change.Key),
			zap.String("old", change.Old),
			zap.String("new", change.New))
	}
}

// Change is one configuration key whose effective value changed.
type Change struct {
	Key string
	Old string
	New string
}

// Diff compares two configurations key by key. Secrets are never part of
// the comparison because they are not serialized.
func Diff(old, cfg *CollectorConfig) []Change {
	before := flatten(old)
	after := flatten(cfg)

	keys := make(map[string]struct{}, len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	var changes []Change
	for k := range keys {
		if before[k] != after[k] {
			changes = append(changes, Change{Key: k, Old: before[k], New: after[k]})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

func flatten(cfg *CollectorConfig) map[string]string {
	out := make(map[string]string)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return out
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return out
	}
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]string, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = fmt.Sprint(val)
	}
}

// MarshalYAML renders the effective configuration for -print-config.
func MarshalYAML(cfg any) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
