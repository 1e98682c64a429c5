package source

import (
	"fmt"
	"strings"
	"time"
)

// Dialect abstracts the SQL differences between the supported databases.
type Dialect interface {
	// DriverName returns the database/sql driver name.
	DriverName() string

	// DSN turns the host identifier into a data source name.
	DSN(host string) string

	// Placeholder returns the parameter placeholder for the 1-based index.
	Placeholder(index int) string

	// ListTablesSQL lists user tables, one name per row.
	ListTablesSQL() string

	// TableExistsSQL counts tables named by the first parameter.
	TableExistsSQL() string

	// TimeArg converts a window bound into a comparable query argument.
	TimeArg(t time.Time) any
}

// SQLiteDialect reads SQLite files through modernc.org/sqlite.
// created_at is stored as fixed-width UTC text so it compares lexically.
type SQLiteDialect struct{}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) DSN(host string) string {
	return sqlitePath(host) + "?_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

func sqlitePath(host string) string {
	return strings.TrimPrefix(trimScheme(host, "sqlite:"), "//")
}

func (d *SQLiteDialect) Placeholder(index int) string { return "?" }

func (d *SQLiteDialect) ListTablesSQL() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
}

func (d *SQLiteDialect) TableExistsSQL() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (d *SQLiteDialect) TimeArg(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

// FormatSQLiteTime renders t the way SQLite log tables store created_at.
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// PostgresDialect reads PostgreSQL through the pgx stdlib driver.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string { return "pgx" }

// DSN lower-cases the scheme, which pgx matches case-sensitively.
func (d *PostgresDialect) DSN(host string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if hasScheme(host, scheme) {
			return scheme + trimScheme(host, scheme)
		}
	}
	return host
}

func (d *PostgresDialect) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

func (d *PostgresDialect) ListTablesSQL() string {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
}

func (d *PostgresDialect) TableExistsSQL() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1`
}

func (d *PostgresDialect) TimeArg(t time.Time) any { return t }

// dialectFor picks the dialect from the host scheme, ignoring case as the
// router does.
func dialectFor(host string) (Dialect, error) {
	switch {
	case hasScheme(host, "sqlite:"):
		return &SQLiteDialect{}, nil
	case hasScheme(host, "postgres://"), hasScheme(host, "postgresql://"):
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database host: %s", DisplayHost(host))
	}
}

func hasScheme(host, scheme string) bool {
	return len(host) >= len(scheme) && strings.EqualFold(host[:len(scheme)], scheme)
}

func trimScheme(host, scheme string) string {
	if hasScheme(host, scheme) {
		return host[len(scheme):]
	}
	return host
}
