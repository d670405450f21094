package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteOptions are the connection pragmas the index database is opened with
type sqliteOptions struct {
	JournalMode string
	Synchronous string
	BusyTimeout time.Duration
}

var defaultSQLiteOptions = sqliteOptions{
	JournalMode: "WAL",
	Synchronous: "NORMAL",
	BusyTimeout: 5 * time.Second,
}

// dsn renders path and the pragmas as a go-sqlite3 data source name
func (o sqliteOptions) dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", o.JournalMode)
	q.Set("_synchronous", o.Synchronous)
	q.Set("_busy_timeout", fmt.Sprint(o.BusyTimeout.Milliseconds()))
	return "file:" + path + "?" + q.Encode()
}

// openSQLite opens the database at path, checks the journal mode took
// effect and brings the schema up to date. The parent directory is created.
func openSQLite(ctx context.Context, path string, opts sqliteOptions) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", opts.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The index is a single row; one connection keeps writes ordered
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := verifySQLite(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func verifySQLite(ctx context.Context, db *sql.DB, opts sqliteOptions) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, opts.JournalMode) {
		return fmt.Errorf("database journal mode is %s, want %s", mode, opts.JournalMode)
	}
	return nil
}
