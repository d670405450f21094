package store

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLiteOptions_DSN(t *testing.T) {
	dsn := defaultSQLiteOptions.dsn("/var/lib/songcache/metadata.db")

	path, query, ok := strings.Cut(dsn, "?")
	if !ok {
		t.Fatalf("Expected a query string in %q", dsn)
	}
	if path != "file:/var/lib/songcache/metadata.db" {
		t.Errorf("Unexpected path %q", path)
	}

	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("Failed to parse query: %v", err)
	}
	want := map[string]string{
		"_journal_mode": "WAL",
		"_synchronous":  "NORMAL",
		"_busy_timeout": "5000",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("Expected %s=%s, got %q", k, v, got)
		}
	}
}

func TestOpenSQLite_CreatesDirectoryInWALMode(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "data", "metadata.db")

	db, err := openSQLite(ctx, dbPath, defaultSQLiteOptions)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("Failed to read journal mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("Expected WAL journal mode, got %s", mode)
	}

	version, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected schema version %d, got %d", len(migrations), version)
	}
}
