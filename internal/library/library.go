// Package library is the presentation-facing side of the song cache. It owns
// the metadata store, the download queue and the storage accountant, and
// keeps deletions consistent between the index and the files on disk.
package library

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deemusic/songcache/internal/catalog"
	"github.com/deemusic/songcache/internal/download"
	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/monitoring"
	"github.com/deemusic/songcache/internal/storage"
	"github.com/deemusic/songcache/internal/store"
)

// Version is reported by health checks
const Version = "1.0.0"

// Options wires a Library to its backends
type Options struct {
	Catalog  *catalog.Catalog
	KV       store.KVStore
	StoreKey string
	Fetcher  download.Fetcher
	Layout   download.Layout
	Capacity storage.CapacityQuery
	// Fs backs the default prober and remover; nil is the OS filesystem
	Fs      afero.Fs
	Prober  storage.FileProber
	Remover storage.FileRemover
	Logger  *zap.Logger
	// DefaultCategory is used when a caller omits the category
	DefaultCategory string
}

// Status is a point-in-time view for the presentation layer
type Status struct {
	Index         store.Index
	IsDownloading bool
	CurrentItem   *download.Item
	Pending       []download.Item
	Online        bool
	UsedBytes     int64
	UsedStorage   string
	TotalStorage  string
}

// Library composes the cache core
type Library struct {
	catalog         *catalog.Catalog
	store           *store.MetadataStore
	queue           *download.Queue
	events          *download.Broadcaster
	accountant      *storage.Accountant
	remover         storage.FileRemover
	health          *monitoring.HealthChecker
	logger          *zap.Logger
	defaultCategory string
}

// Open creates the store, loads the persisted index and starts an empty queue
func Open(ctx context.Context, opts Options) (*Library, error) {
	if opts.KV == nil {
		return nil, apperrors.NewValidationError("a key-value backend is required")
	}
	if opts.Fetcher == nil {
		return nil, apperrors.NewValidationError("a resource fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = store.DefaultCategory
	}
	if opts.Catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load default catalog: %w", err)
		}
		opts.Catalog = c
	}

	disk := storage.NewDisk(opts.Fs)
	if opts.Prober == nil {
		opts.Prober = disk
	}
	if opts.Remover == nil {
		opts.Remover = disk
	}

	logger := opts.Logger.Named("library")

	metadata := store.NewMetadataStore(opts.KV, opts.StoreKey, opts.Logger)
	idx := metadata.Load(ctx)

	events := download.NewBroadcaster()
	queue := download.NewQueue(download.QueueOptions{
		Store:           metadata,
		Fetcher:         opts.Fetcher,
		Remover:         opts.Remover,
		Layout:          opts.Layout,
		Notifier:        events,
		Logger:          opts.Logger,
		DefaultCategory: opts.DefaultCategory,
	})
	if err := queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start queue: %w", err)
	}

	logger.Info("library opened",
		zap.Int("categories", len(idx)),
		zap.Int("entries", idx.Len()),
	)

	return &Library{
		catalog:         opts.Catalog,
		store:           metadata,
		queue:           queue,
		events:          events,
		accountant:      storage.NewAccountant(opts.Prober, opts.Capacity, opts.Logger),
		remover:         opts.Remover,
		health:          monitoring.NewHealthChecker(Version, metadata),
		logger:          logger,
		defaultCategory: opts.DefaultCategory,
	}, nil
}

// Close waits for the in-flight download and releases the store
func (l *Library) Close() error {
	l.queue.Stop()
	l.events.Close()
	return l.store.Close()
}

// Catalog returns the catalog the library serves
func (l *Library) Catalog() *catalog.Catalog {
	return l.catalog
}

// Events returns the broadcaster carrying download notifications
func (l *Library) Events() *download.Broadcaster {
	return l.events
}

// Enqueue requests a download; see download.Queue.Enqueue
func (l *Library) Enqueue(track catalog.Track, category string) bool {
	return l.queue.Enqueue(track, category)
}

// EnqueueAll requests downloads for tracks in order
func (l *Library) EnqueueAll(tracks []catalog.Track, category string) int {
	return l.queue.EnqueueAll(tracks, category)
}

// EnqueueByID resolves a catalog track and enqueues it. An empty category
// selects the default category.
func (l *Library) EnqueueByID(category, id string) (bool, error) {
	if category == "" {
		category = l.defaultCategory
	}
	track, err := l.catalog.Track(category, id)
	if err != nil {
		return false, apperrors.NewNotFoundError(err.Error())
	}
	return l.queue.Enqueue(track, category), nil
}

// EnqueueCategory enqueues every catalog track of a category not yet cached
func (l *Library) EnqueueCategory(category string) (int, error) {
	if category == "" {
		category = l.defaultCategory
	}
	tracks, err := l.catalog.Tracks(category)
	if err != nil {
		return 0, apperrors.NewNotFoundError(err.Error())
	}
	return l.queue.EnqueueAll(tracks, category), nil
}

// SetConnected feeds the connectivity signal to the queue
func (l *Library) SetConnected(connected bool) {
	l.queue.SetOnline(connected)
}

// WaitIdle blocks until the queue has nothing running
func (l *Library) WaitIdle(ctx context.Context) error {
	return l.queue.WaitIdle(ctx)
}

// DeleteEntry removes an entry's files and then its record. Deleting an
// absent entry is a no-op. If a file cannot be removed the record is kept.
func (l *Library) DeleteEntry(ctx context.Context, category, id string) error {
	if category == "" {
		category = l.defaultCategory
	}

	entry, ok := l.store.Lookup(category, id)
	if !ok {
		l.logger.Debug("delete of absent entry", zap.String("category", category), zap.String("track_id", id))
		return nil
	}

	if err := l.removeFiles(entry); err != nil {
		l.logger.Error("failed to remove cached files, keeping record",
			zap.String("category", category),
			zap.String("track_id", id),
			zap.Error(err),
		)
		return err
	}

	if err := l.store.Remove(ctx, category, id); err != nil {
		return fmt.Errorf("failed to remove %s/%s from metadata: %w", category, id, err)
	}

	l.logger.Info("deleted cached track", zap.String("category", category), zap.String("track_id", id))
	return nil
}

// DeleteCategory removes the files of every entry in category, then drops
// those entries and the category key. Entries whose files could not be
// removed are kept and the combined error is returned. An entry appended by
// a download that finished during the delete is kept with its files.
func (l *Library) DeleteCategory(ctx context.Context, category string) error {
	entries := l.store.Category(category)

	var (
		removed []string
		errs    error
	)
	for _, entry := range entries {
		if err := l.removeFiles(entry); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed = append(removed, entry.ID)
	}

	if err := l.store.RemoveCategory(ctx, category, removed...); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove category %s from metadata: %w", category, err))
	}

	if errs != nil {
		l.logger.Error("category partially deleted",
			zap.String("category", category),
			zap.Int("removed", len(removed)),
			zap.Int("kept", len(entries)-len(removed)),
			zap.Error(errs),
		)
		return errs
	}

	l.logger.Info("deleted category", zap.String("category", category), zap.Int("entries", len(removed)))
	return nil
}

// Snapshot returns the current index, download state and storage figures
func (l *Library) Snapshot() Status {
	idx := l.store.Snapshot()
	used := l.accountant.UsedBytes(idx)

	status := Status{
		Index:         idx,
		IsDownloading: l.queue.IsDownloading(),
		Pending:       l.queue.Pending(),
		Online:        l.queue.Online(),
		UsedBytes:     used,
		UsedStorage:   storage.FormatBytes(used),
		TotalStorage:  l.accountant.TotalCapacity(),
	}
	if item, ok := l.queue.CurrentItem(); ok {
		status.CurrentItem = &item
	}
	return status
}

// Health reports store reachability and queue state
func (l *Library) Health(ctx context.Context) *monitoring.HealthCheck {
	return l.health.Check(ctx, monitoring.QueueState{
		Pending:     len(l.queue.Pending()),
		Downloading: l.queue.IsDownloading(),
		Connected:   l.queue.Online(),
	})
}

// ExportIndex returns the persisted index as indented JSON
func (l *Library) ExportIndex() ([]byte, error) {
	data, err := json.MarshalIndent(l.store.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index: %w", err)
	}
	return data, nil
}

// ImportIndex replaces the index with a raw JSON payload. Payloads that are
// not an object of lists are rejected and leave the index untouched.
func (l *Library) ImportIndex(ctx context.Context, raw []byte) error {
	return l.store.SaveJSON(ctx, raw)
}

func (l *Library) removeFiles(entry store.CachedTrack) error {
	return multierr.Combine(
		l.remover.Remove(entry.LocalAudioPath),
		l.remover.Remove(entry.LocalImagePath),
	)
}
