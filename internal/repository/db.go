package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// DetectDialect maps a connection URL to a dialect and the DSN its driver expects.
// postgres:// and postgresql:// go to PostgreSQL; sqlite://, file: and :memory: go to SQLite.
func DetectDialect(url string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		return SQLite, url, nil
	}
	return "", "", fmt.Errorf("unsupported database url %q", url)
}

// GetDatabase opens and pings the database behind url.
func GetDatabase(ctx context.Context, url string, pool PoolOptions) (*sql.DB, Dialect, error) {
	dialect, dsn, err := DetectDialect(url)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("while opening database: %w", err)
	}
	switch dialect {
	case SQLite:
		// one writer; in-memory databases are per connection
		db.SetMaxOpenConns(1)
	default:
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("while connecting to database: %w", err)
	}
	return db, dialect, nil
}
