package store

import (
	"context"
	"path/filepath"
	"testing"
)

func setupTestKV(t *testing.T) *SQLiteKV {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	kv, err := OpenSQLiteKV(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	return kv
}

func TestSQLiteKV_GetMissing(t *testing.T) {
	kv := setupTestKV(t)

	_, ok, err := kv.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if ok {
		t.Error("Expected missing key to report ok=false")
	}
}

func TestSQLiteKV_SetAndOverwrite(t *testing.T) {
	kv := setupTestKV(t)
	ctx := context.Background()

	if err := kv.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := kv.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}

	value, ok, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if !ok || value != "v2" {
		t.Errorf("Expected v2, got %q (ok=%v)", value, ok)
	}
}

func TestSQLiteKV_Migrations(t *testing.T) {
	kv := setupTestKV(t)

	version, err := SchemaVersion(kv.DB())
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected schema version %d, got %d", len(migrations), version)
	}

	// Running again is a no-op
	if err := RunMigrations(kv.DB()); err != nil {
		t.Errorf("Expected rerun to succeed, got %v", err)
	}
}

func TestSQLiteKV_MetadataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")

	kv, err := OpenSQLiteKV(dbPath)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	s := NewMetadataStore(kv, "", nil)
	if err := s.Append(ctx, "Pop-songs", cached("1", "Call Me Maybe")); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	kv, err = OpenSQLiteKV(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer kv.Close()

	idx := NewMetadataStore(kv, "", nil).Load(ctx)
	if !idx.Contains("Pop-songs", "1") {
		t.Errorf("Expected entry to survive reopen, got %v", idx)
	}
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("Expected empty store")
	}
	kv.Set(ctx, "k", "v")
	if value, ok, _ := kv.Get(ctx, "k"); !ok || value != "v" {
		t.Errorf("Expected v, got %q", value)
	}
}
