package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// SurrealConfig holds SurrealDB connection settings
type SurrealConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Database  string `mapstructure:"database" yaml:"database"`
	User      string `mapstructure:"user" yaml:"user"`
	Pass      string `mapstructure:"pass" yaml:"-"`
}

// SurrealClient reads logs stored one table per log.
type SurrealClient struct {
	db     *surrealdb.DB
	logger *zap.Logger
}

type surrealRow struct {
	CreatedAt string `json:"created_at"`
	EventID   int64  `json:"event_id"`
	Provider  string `json:"provider"`
	Level     *int64 `json:"level"`
	Body      string `json:"body"`
}

// OpenSurreal connects to a ws:// or wss:// SurrealDB endpoint
func OpenSurreal(ctx context.Context, url string, cfg SurrealConfig, logger *zap.Logger) (*SurrealClient, error) {
	var db *surrealdb.DB
	err := withContext(ctx, func() error {
		conn, err := surrealdb.New(url)
		if err != nil {
			return fmt.Errorf("failed to create SurrealDB client: %w", err)
		}
		if err := signIn(conn, cfg); err != nil {
			_ = conn.Close()
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &SurrealClient{db: db, logger: logger}, nil
}

func signIn(db *surrealdb.DB, cfg SurrealConfig) error {
	if cfg.User != "" {
		token, err := db.SignIn(&surrealdb.Auth{
			Username: cfg.User,
			Password: cfg.Pass,
		})
		if err != nil {
			return fmt.Errorf("failed to sign in to SurrealDB: %w", err)
		}
		if err := db.Authenticate(token); err != nil {
			return fmt.Errorf("failed to authenticate with SurrealDB: %w", err)
		}
	}

	if err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		return fmt.Errorf("failed to use namespace/database: %w", err)
	}
	return nil
}

// LogNames lists the tables of the selected database
func (c *SurrealClient) LogNames(ctx context.Context) ([]string, error) {
	var names []string
	err := withContext(ctx, func() error {
		res, err := surrealdb.Query[map[string]any](c.db, "INFO FOR DB", nil)
		if err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}
		if res == nil || len(*res) == 0 {
			return nil
		}

		tables, _ := (*res)[0].Result["tables"].(map[string]any)
		for name := range tables {
			if identPattern.MatchString(name) {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Query selects the rows of one table inside the window
func (c *SurrealClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	if !identPattern.MatchString(logName) {
		return nil, fmt.Errorf("invalid table name %q", logName)
	}

	query := `SELECT <string> created_at AS created_at, event_id, provider, level, body
		FROM type::table($tb)
		WHERE created_at > <datetime> $start AND created_at <= <datetime> $end`
	vars := map[string]any{
		"tb":    logName,
		"start": window.Start.UTC().Format(time.RFC3339Nano),
		"end":   window.End.UTC().Format(time.RFC3339Nano),
	}
	if maxLevel != models.Unbounded {
		query += " AND level <= $max"
		vars["max"] = int(maxLevel)
	}
	query += " ORDER BY created_at"

	var records []models.EventRecord
	err := withContext(ctx, func() error {
		res, err := surrealdb.Query[[]surrealRow](c.db, query, vars)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", logName, err)
		}
		if res == nil {
			return nil
		}
		for _, stmt := range *res {
			if stmt.Status != "OK" {
				return fmt.Errorf("failed to query %s: status %s", logName, stmt.Status)
			}
			for _, row := range stmt.Result {
				records = append(records, row.record(logName, window.End))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the connection
func (c *SurrealClient) Close() error {
	return c.db.Close()
}

func (r surrealRow) record(logName string, fallback time.Time) models.EventRecord {
	rec := models.EventRecord{
		LogName:  logName,
		ID:       r.EventID,
		Provider: r.Provider,
		Level:    models.LevelUnknown,
		Body:     r.Body,
	}
	if r.Level != nil {
		rec.Level = models.LevelFromInt(*r.Level)
	}

	// An unreadable created_at falls back to the window end.
	ts, _ := parseTimeString(r.CreatedAt)
	rec.CreatedAt = timeOr(ts, fallback)
	return rec
}

// withContext runs fn, giving up when ctx ends first. The SurrealDB client
// calls cannot be cancelled, so fn keeps running in the background.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
