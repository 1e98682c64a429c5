package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oicur0t/logcollect/pkg/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLConfig holds settings shared by SQL-backed hosts
type SQLConfig struct {
	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLClient reads logs stored as tables with the columns
// created_at, event_id, provider, level, body.
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// OpenSQL connects to a sqlite:<path> or postgres:// host
func OpenSQL(ctx context.Context, host string, cfg SQLConfig, logger *zap.Logger) (*SQLClient, error) {
	d, err := dialectFor(host)
	if err != nil {
		return nil, err
	}

	if _, ok := d.(*SQLiteDialect); ok {
		path := sqlitePath(host)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
	}

	db, err := sql.Open(d.DriverName(), d.DSN(host))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLClient{db: db, dialect: d, logger: logger}, nil
}

// LogNames lists the queryable tables
func (c *SQLClient) LogNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.ListTablesSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if !identPattern.MatchString(name) {
			c.logger.Debug("Skipping table with unsupported name", zap.String("table", name))
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

// Query selects the rows of one table inside the window
func (c *SQLClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	if !identPattern.MatchString(logName) {
		return nil, fmt.Errorf("invalid table name %q", logName)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, c.dialect.TableExistsSQL(), logName).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to check table %s: %w", logName, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLog, logName)
	}

	d := c.dialect
	query := fmt.Sprintf(`SELECT created_at, event_id, provider, level, body FROM "%s" WHERE created_at > %s AND created_at <= %s`,
		logName, d.Placeholder(1), d.Placeholder(2))
	args := []any{d.TimeArg(window.Start), d.TimeArg(window.End)}
	if maxLevel != models.Unbounded {
		query += " AND level <= " + d.Placeholder(3)
		args = append(args, int(maxLevel))
	}
	query += " ORDER BY created_at"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", logName, err)
	}
	defer rows.Close()

	var records []models.EventRecord
	for rows.Next() {
		var (
			createdAt any
			eventID   sql.NullInt64
			provider  sql.NullString
			level     sql.NullInt64
			body      sql.NullString
		)

		rec := models.EventRecord{LogName: logName, Level: models.LevelUnknown}
		if err := rows.Scan(&createdAt, &eventID, &provider, &level, &body); err != nil {
			rec.CreatedAt = window.End
			rec.Body = models.RenderFailure(err)
			records = append(records, rec)
			continue
		}

		ts, err := scanTime(createdAt)
		if err != nil {
			c.logger.Debug("Unreadable created_at, using window end",
				zap.String("table", logName), zap.Error(err))
		}
		rec.CreatedAt = timeOr(ts, window.End)
		rec.ID = eventID.Int64
		rec.Provider = provider.String
		rec.Body = body.String
		if level.Valid {
			rec.Level = models.LevelFromInt(level.Int64)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", logName, err)
	}
	return records, nil
}

// Close closes the database handle
func (c *SQLClient) Close() error {
	return c.db.Close()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case int64:
		return unixTime(float64(t)), nil
	case float64:
		return unixTime(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported created_at type %T", v)
	}
}
