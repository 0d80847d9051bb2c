// Package sqlite provides the SQLite-backed operation queue, delta token
// store and local entity store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// pragmas are applied to every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Connection is the single database handle shared by the stores. Queue
// writes rely on it being one connection wide.
type Connection struct {
	mu sync.RWMutex
	db *sql.DB
}

// defaultDatabasePath is ~/.datasync/datasync.db.
func defaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".datasync", "datasync.db"), nil
}

// OpenConnection opens the database at path, creating its directory, and
// migrates the schema. An empty path selects defaultDatabasePath and
// ":memory:" an in-memory database.
func OpenConnection(ctx context.Context, path string) (*Connection, error) {
	if path == "" {
		var err error
		if path, err = defaultDatabasePath(); err != nil {
			return nil, err
		}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	return &Connection{db: db}, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return applyMigrations(db)
}

// DB returns the handle, or an error once the connection is closed.
func (c *Connection) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, fmt.Errorf("database is closed")
	}
	return c.db, nil
}

// Close closes the handle. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}
	return nil
}
