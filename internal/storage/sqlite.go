// Package storage provides SQLite-backed persistence for scraped data:
// the relational model (sources, tags, products, listings), repositories,
// and the item-storing pipelines used by spider runs.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	// SQLite serializes writers, so a single connection avoids lock errors.
	DefaultMaxOpenConns = 1
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations
	DefaultPingTimeout = 5 * time.Second
)

// InMemoryPath opens a private in-memory database, used when no database
// path is configured and in tests.
const InMemoryPath = ":memory:"

// Open creates a new SQLite database connection with foreign keys enabled.
func Open(path string) (*sqlx.DB, error) {
	if path == "" {
		path = InMemoryPath
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}
