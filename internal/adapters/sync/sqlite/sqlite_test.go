package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultDatabasePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := defaultDatabasePath()
	if err != nil {
		t.Fatalf("defaultDatabasePath() error = %v", err)
	}
	if want := filepath.Join(home, ".datasync", "datasync.db"); got != want {
		t.Errorf("defaultDatabasePath() = %q, want %q", got, want)
	}
}

func TestOpenConnection_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "datasync.db")

	conn, err := OpenConnection(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	defer conn.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	for _, table := range []string{"operations", "delta_tokens", "entities", "migrations"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n); err != nil {
			t.Fatalf("sqlite_master lookup for %q: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %q missing", table)
		}
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpenConnection_ReopenKeepsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasync.db")
	ctx := context.Background()

	first, err := OpenConnection(ctx, path)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := NewDeltaTokenStore(first).Set(ctx, "q-movies", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := OpenConnection(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	db, _ := second.DB()
	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 4 {
		t.Errorf("migrations = %d, want 4", applied)
	}

	got, err := NewDeltaTokenStore(second).Get(ctx, "q-movies")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("token after reopen = %v, want %v", got, want)
	}
}

func TestOpenConnection_InMemory(t *testing.T) {
	conn, err := OpenConnection(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenConnection(:memory:) error = %v", err)
	}
	defer conn.Close()

	if _, err := os.Stat(":memory:"); !os.IsNotExist(err) {
		t.Error("in-memory database should not create a file")
	}
}

func TestOpenConnection_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := OpenConnection(ctx, filepath.Join(t.TempDir(), "datasync.db")); err == nil {
		t.Error("OpenConnection() with a cancelled context should fail")
	}
}

func TestConnection_Close(t *testing.T) {
	conn, err := OpenConnection(context.Background(), filepath.Join(t.TempDir(), "datasync.db"))
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conn.DB(); err != nil {
				t.Errorf("concurrent DB() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := conn.DB(); err == nil {
		t.Error("DB() after Close() should fail")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
