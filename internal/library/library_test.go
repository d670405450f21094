package library

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/deemusic/songcache/internal/catalog"
	"github.com/deemusic/songcache/internal/download"
	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/storage"
	"github.com/deemusic/songcache/internal/store"
)

// fsFetcher writes 512 bytes for every fetch
type fsFetcher struct {
	fs afero.Fs
}

func (f fsFetcher) Fetch(_ context.Context, _ string, localPath string) (string, error) {
	if err := afero.WriteFile(f.fs, localPath, make([]byte, 512), 0644); err != nil {
		return "", err
	}
	return localPath, nil
}

// gatedFetcher holds fetches for paths containing hold until gate is closed
type gatedFetcher struct {
	fsFetcher
	hold    string
	gate    chan struct{}
	started chan string
}

func (f *gatedFetcher) Fetch(ctx context.Context, remoteURI, localPath string) (string, error) {
	if f.hold != "" && strings.Contains(localPath, f.hold) {
		select {
		case f.started <- localPath:
		default:
		}
		<-f.gate
	}
	return f.fsFetcher.Fetch(ctx, remoteURI, localPath)
}

// recordingRemover records every removal and can refuse chosen paths.
// beforeFirst, when set, runs once before the first removal.
type recordingRemover struct {
	disk *storage.Disk

	mu          sync.Mutex
	removed     []string
	refuse      map[string]bool
	beforeFirst func()
}

func (r *recordingRemover) Remove(path string) error {
	r.mu.Lock()
	hook := r.beforeFirst
	r.beforeFirst = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse[path] {
		return apperrors.NewFileSystemError("permission denied", errors.New(path))
	}
	r.removed = append(r.removed, path)
	return r.disk.Remove(path)
}

func (r *recordingRemover) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type fixedCapacity uint64

func (c fixedCapacity) FreeBytes() (uint64, error) { return uint64(c), nil }

type fixture struct {
	fs              afero.Fs
	kv              *store.MemoryKV
	fetcher         download.Fetcher
	remover         *recordingRemover
	defaultCategory string
	lib             *Library
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newUnopenedFixture()
	f.lib = f.open(t)
	return f
}

func newUnopenedFixture() *fixture {
	f := &fixture{
		fs: afero.NewMemMapFs(),
		kv: store.NewMemoryKV(),
	}
	f.fetcher = fsFetcher{fs: f.fs}
	f.remover = &recordingRemover{disk: storage.NewDisk(f.fs), refuse: map[string]bool{}}
	return f
}

func (f *fixture) open(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(context.Background(), Options{
		KV:              f.kv,
		Fetcher:         f.fetcher,
		Layout:          download.NewLayout("/cache", ".mp3", ".jpg"),
		Capacity:        fixedCapacity(1 << 30),
		Fs:              f.fs,
		Remover:         f.remover,
		DefaultCategory: f.defaultCategory,
	})
	if err != nil {
		t.Fatalf("Failed to open library: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

func (f *fixture) download(t *testing.T, category string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := f.lib.EnqueueByID(category, id); err != nil {
			t.Fatalf("Failed to enqueue %s/%s: %v", category, id, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.lib.WaitIdle(ctx); err != nil {
		t.Fatalf("Queue did not drain: %v", err)
	}
}

func TestLibrary_DeleteCategory(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Pop-songs", "1", "2")

	if got := len(f.lib.Snapshot().Index["Pop-songs"]); got != 2 {
		t.Fatalf("Expected 2 cached entries, got %d", got)
	}

	if err := f.lib.DeleteCategory(context.Background(), "Pop-songs"); err != nil {
		t.Fatalf("Failed to delete category: %v", err)
	}

	removed := f.remover.Removed()
	var audio, image int
	for _, p := range removed {
		switch {
		case strings.HasSuffix(p, ".mp3"):
			audio++
		case strings.HasSuffix(p, ".jpg"):
			image++
		}
	}
	if audio != 2 || image != 2 {
		t.Errorf("Expected 2 audio and 2 image removals, got %v", removed)
	}
	for _, p := range removed {
		if ok, _ := afero.Exists(f.fs, p); ok {
			t.Errorf("Expected %s to be gone", p)
		}
	}

	raw, ok, _ := f.kv.Get(context.Background(), store.DefaultKey)
	if !ok {
		t.Fatal("Expected index to stay persisted")
	}
	if strings.Contains(raw, "Pop-songs") {
		t.Errorf("Expected Pop-songs key to be absent, got %s", raw)
	}
}

func TestLibrary_DeleteCategoryKeepsUnremovable(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Pop-songs", "1", "2")

	stuck, _ := f.lib.store.Lookup("Pop-songs", "2")
	f.remover.refuse[stuck.LocalAudioPath] = true

	err := f.lib.DeleteCategory(context.Background(), "Pop-songs")
	if err == nil {
		t.Fatal("Expected an error for the unremovable file")
	}

	entries := f.lib.Snapshot().Index["Pop-songs"]
	if len(entries) != 1 || entries[0].ID != "2" {
		t.Errorf("Expected only entry 2 to be kept, got %v", entries)
	}
}

func TestLibrary_DeleteCategoryKeepsDownloadFinishedMeanwhile(t *testing.T) {
	f := newUnopenedFixture()
	gated := &gatedFetcher{
		fsFetcher: fsFetcher{fs: f.fs},
		hold:      "/Pop-songs/2.",
		gate:      make(chan struct{}),
		started:   make(chan string, 1),
	}
	f.fetcher = gated
	f.lib = f.open(t)
	ctx := context.Background()

	f.download(t, "Pop-songs", "1")

	if _, err := f.lib.EnqueueByID("Pop-songs", "2"); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	select {
	case <-gated.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the second download to start")
	}

	// Let the held download finish while the delete is removing files
	f.remover.beforeFirst = func() {
		close(gated.gate)
		deadline := time.Now().Add(5 * time.Second)
		for !f.lib.store.Contains("Pop-songs", "2") {
			if time.Now().After(deadline) {
				t.Error("Timed out waiting for the second download to be recorded")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}

	if err := f.lib.DeleteCategory(ctx, "Pop-songs"); err != nil {
		t.Fatalf("Failed to delete category: %v", err)
	}

	entries := f.lib.Snapshot().Index["Pop-songs"]
	if len(entries) != 1 || entries[0].ID != "2" {
		t.Fatalf("Expected the late entry 2 to be kept, got %v", entries)
	}
	for _, p := range []string{entries[0].LocalAudioPath, entries[0].LocalImagePath} {
		if ok, _ := afero.Exists(f.fs, p); !ok {
			t.Errorf("Expected %s to stay with its record", p)
		}
	}

	raw, _, _ := f.kv.Get(ctx, store.DefaultKey)
	if !strings.Contains(raw, "Pop-songs") {
		t.Errorf("Expected Pop-songs key to stay persisted, got %s", raw)
	}
	for _, p := range f.remover.Removed() {
		if strings.Contains(p, "/Pop-songs/2.") {
			t.Errorf("Expected files of entry 2 to be left alone, removed %s", p)
		}
	}
}

func TestLibrary_EnqueueByIDDefaultCategory(t *testing.T) {
	f := newUnopenedFixture()
	f.defaultCategory = "Pop-songs"
	f.lib = f.open(t)

	f.download(t, "", "1")

	if !f.lib.store.Contains("Pop-songs", "1") {
		t.Error("Expected track to be cached in the default category")
	}
	if n, err := f.lib.EnqueueCategory(""); err != nil || n != 4 {
		t.Errorf("Expected 4 tracks queued for the default category, got %d (%v)", n, err)
	}
}

func TestLibrary_DeleteEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.download(t, "Pop-songs", "1", "2")

	entry, _ := f.lib.store.Lookup("Pop-songs", "1")
	if err := f.lib.DeleteEntry(ctx, "Pop-songs", "1"); err != nil {
		t.Fatalf("Failed to delete entry: %v", err)
	}

	for _, p := range []string{entry.LocalAudioPath, entry.LocalImagePath} {
		if ok, _ := afero.Exists(f.fs, p); ok {
			t.Errorf("Expected %s to be removed", p)
		}
	}
	entries := f.lib.Snapshot().Index["Pop-songs"]
	if len(entries) != 1 || entries[0].ID != "2" {
		t.Errorf("Expected only entry 2 to remain, got %v", entries)
	}

	// Second delete is a no-op
	before := len(f.remover.Removed())
	if err := f.lib.DeleteEntry(ctx, "Pop-songs", "1"); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
	if after := len(f.remover.Removed()); after != before {
		t.Errorf("Expected no further removals, got %d", after-before)
	}
}

func TestLibrary_DeleteEntryKeepsRecordOnFailure(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Pop-songs", "1")

	entry, _ := f.lib.store.Lookup("Pop-songs", "1")
	f.remover.refuse[entry.LocalImagePath] = true

	if err := f.lib.DeleteEntry(context.Background(), "Pop-songs", "1"); err == nil {
		t.Fatal("Expected an error")
	}
	if !f.lib.store.Contains("Pop-songs", "1") {
		t.Error("Expected the record to be kept")
	}
}

func TestLibrary_ReopenLoadsIndex(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Christmas-songs", "3")
	if err := f.lib.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	reopened := f.open(t)
	entry, ok := reopened.store.Lookup("Christmas-songs", "3")
	if !ok {
		t.Fatal("Expected entry to survive reopen")
	}
	if entry.Title != "All I want for Christmas Is You" {
		t.Errorf("Unexpected title %q", entry.Title)
	}
}

func TestLibrary_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Pop-songs", "1", "2")

	status := f.lib.Snapshot()
	if status.IsDownloading || status.CurrentItem != nil || len(status.Pending) != 0 {
		t.Errorf("Expected idle queue, got %+v", status)
	}
	if !status.Online {
		t.Error("Expected online by default")
	}
	if status.UsedBytes != 1024 {
		t.Errorf("Expected 1024 used bytes, got %d", status.UsedBytes)
	}
	if status.UsedStorage != "1.00 KB" {
		t.Errorf("Expected 1.00 KB, got %s", status.UsedStorage)
	}
	if status.TotalStorage != "1.00 GB" {
		t.Errorf("Expected 1.00 GB, got %s", status.TotalStorage)
	}
}

func TestLibrary_EnqueueUnknown(t *testing.T) {
	f := newFixture(t)

	if _, err := f.lib.EnqueueByID("Pop-songs", "99"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
	if _, err := f.lib.EnqueueCategory("Jazz"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestLibrary_EnqueueCategory(t *testing.T) {
	f := newFixture(t)
	f.download(t, "Christmas-songs", "1")

	n, err := f.lib.EnqueueCategory("Christmas-songs")
	if err != nil {
		t.Fatalf("Failed to enqueue category: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 new tracks queued, got %d", n)
	}
}

func TestLibrary_ImportExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.lib.ImportIndex(ctx, []byte(`{"Pop-songs": {"id": "1"}}`)); !apperrors.IsMalformedMetadata(err) {
		t.Errorf("Expected malformed metadata error, got %v", err)
	}

	payload := `{"Pop-songs":[{"id":"1","title":"Call Me Maybe","author":"Carly Rae Jepsen","duration":"3:27 mins","image":"/cache/Pop-songs/1.jpg","uri":"/cache/Pop-songs/1.mp3"}]}`
	if err := f.lib.ImportIndex(ctx, []byte(payload)); err != nil {
		t.Fatalf("Failed to import: %v", err)
	}

	data, err := f.lib.ExportIndex()
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if !strings.Contains(string(data), `"uri": "/cache/Pop-songs/1.mp3"`) {
		t.Errorf("Unexpected export: %s", data)
	}
}

func TestLibrary_Health(t *testing.T) {
	f := newFixture(t)
	f.lib.SetConnected(false)
	f.lib.Enqueue(catalog.Track{ID: "x", AudioURL: "https://a", ImageURL: "https://b"}, "Pop-songs")

	check := f.lib.Health(context.Background())
	if check.Connected {
		t.Error("Expected disconnected")
	}
	if check.QueueSize != 1 {
		t.Errorf("Expected queue size 1, got %d", check.QueueSize)
	}
}

func TestOpen_RequiresBackends(t *testing.T) {
	if _, err := Open(context.Background(), Options{Fetcher: fsFetcher{}}); err == nil {
		t.Error("Expected error without a key-value backend")
	}
	if _, err := Open(context.Background(), Options{KV: store.NewMemoryKV()}); err == nil {
		t.Error("Expected error without a fetcher")
	}
}
