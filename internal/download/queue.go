package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/deemusic/songcache/internal/catalog"
	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/monitoring"
	"github.com/deemusic/songcache/internal/storage"
	"github.com/deemusic/songcache/internal/store"
)

// Fetcher downloads a remote resource to a local path and returns the local URI
type Fetcher interface {
	Fetch(ctx context.Context, remoteURI, localPath string) (string, error)
}

// Item is a pending download request. Items live only in memory.
type Item struct {
	Track    catalog.Track `json:"track"`
	Category string        `json:"category"`
}

// Key returns the (category, id) identity of the item
func (i Item) Key() string {
	return i.Category + "/" + i.Track.ID
}

// QueueOptions wires a Queue to its collaborators
type QueueOptions struct {
	Store    *store.MetadataStore
	Fetcher  Fetcher
	Remover  storage.FileRemover
	Layout   Layout
	Notifier Notifier
	Logger   *zap.Logger
	// DefaultCategory is used for items enqueued without a category
	DefaultCategory string
}

// Queue downloads pending items one at a time in FIFO order. A single drain
// goroutine runs while there is work; it exits when the pending list is empty,
// the queue is offline or the queue is stopped.
type Queue struct {
	store           *store.MetadataStore
	fetcher         Fetcher
	remover         storage.FileRemover
	layout          Layout
	notifier        Notifier
	logger          *zap.Logger
	defaultCategory string

	mu      sync.Mutex
	pending []Item
	current *Item
	online  bool
	started bool
	running bool
	idle    chan struct{} // closed when no drain goroutine is running
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates an idle, online queue. Nothing is fetched until Start.
func NewQueue(opts QueueOptions) *Queue {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = store.DefaultCategory
	}

	idle := make(chan struct{})
	close(idle)

	return &Queue{
		store:           opts.Store,
		fetcher:         opts.Fetcher,
		remover:         opts.Remover,
		layout:          opts.Layout,
		notifier:        opts.Notifier,
		logger:          opts.Logger.Named("queue"),
		defaultCategory: opts.DefaultCategory,
		pending:         make([]Item, 0),
		online:          true,
		idle:            idle,
	}
}

// Start begins draining. Items enqueued before Start are kept.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	q.logger.Info("queue started", zap.Int("pending", len(q.pending)))
	q.kickLocked()
	return nil
}

// Stop prevents new downloads from starting and waits for the in-flight
// download, which is never interrupted. Pending items are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.cancel()
	dropped := len(q.pending)
	q.pending = q.pending[:0]
	q.mu.Unlock()

	q.wg.Wait()
	monitoring.UpdateQueueSize(0)
	q.logger.Info("queue stopped", zap.Int("dropped", dropped))
}

// Enqueue adds a download request. A request already pending, in flight or
// cached for the same (category, id) is skipped, as is one whose category or
// id would be altered to fit on disk. The return value reports whether the
// item was queued.
func (q *Queue) Enqueue(track catalog.Track, category string) bool {
	if category == "" {
		category = q.defaultCategory
	}
	item := Item{Track: track, Category: category}

	if track.ID == "" {
		q.logger.Warn("rejected track without id", zap.String("category", category), zap.String("title", track.Title))
		return false
	}
	if !ValidSegment(category) || !ValidSegment(track.ID) {
		q.logger.Warn("rejected track with a path-unsafe category or id",
			zap.String("category", category),
			zap.String("track_id", track.ID),
		)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if reason, dup := q.duplicateLocked(item); dup {
		q.logger.Warn("skipping duplicate download request",
			zap.String("category", category),
			zap.String("track_id", track.ID),
			zap.String("reason", reason),
		)
		return false
	}

	q.pending = append(q.pending, item)
	monitoring.UpdateQueueSize(len(q.pending))
	q.logger.Info("queued download",
		zap.String("category", category),
		zap.String("track_id", track.ID),
		zap.Int("position", len(q.pending)),
	)

	q.kickLocked()
	return true
}

// EnqueueAll enqueues tracks in order, skipping any already pending, in
// flight or cached. It returns the number of items queued.
func (q *Queue) EnqueueAll(tracks []catalog.Track, category string) int {
	queued := 0
	for _, t := range tracks {
		if q.Enqueue(t, category) {
			queued++
		}
	}
	return queued
}

// SetOnline opens or closes the connectivity gate. While offline, enqueues
// are accepted but no new download starts; an in-flight download finishes.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.online == online {
		return
	}
	q.online = online
	q.logger.Info("connectivity changed", zap.Bool("online", online), zap.Int("pending", len(q.pending)))

	if online {
		q.kickLocked()
	}
}

// Online reports the connectivity gate state
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// IsDownloading reports whether a download is in flight
func (q *Queue) IsDownloading() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// CurrentItem returns the in-flight item, if any
func (q *Queue) CurrentItem() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Item{}, false
	}
	return *q.current, true
}

// Pending returns a copy of the pending list in download order
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Item, len(q.pending))
	copy(items, q.pending)
	return items
}

// WaitIdle blocks until no drain goroutine is running or ctx is done
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.running {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// duplicateLocked must be called with q.mu held
func (q *Queue) duplicateLocked(item Item) (string, bool) {
	if q.current != nil && q.current.Key() == item.Key() {
		return "in flight", true
	}
	if lo.ContainsBy(q.pending, func(p Item) bool { return p.Key() == item.Key() }) {
		return "already pending", true
	}
	if q.store != nil && q.store.Contains(item.Category, item.Track.ID) {
		return "already cached", true
	}
	return "", false
}

// kickLocked starts the drain goroutine if there is work and none is running.
// Must be called with q.mu held.
func (q *Queue) kickLocked() {
	if !q.started || !q.online || q.running || len(q.pending) == 0 {
		return
	}
	q.running = true
	q.idle = make(chan struct{})
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.ctx.Err() != nil || !q.online || len(q.pending) == 0 {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}

		item := q.pending[0]
		q.pending = q.pending[1:]
		q.current = &item
		monitoring.UpdateQueueSize(len(q.pending))
		// a download in flight is not cancelled by Stop
		ctx := context.WithoutCancel(q.ctx)
		q.mu.Unlock()

		q.process(ctx, item)

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}
}

// process downloads one item. Errors are reported through the notifier
// and never stop the drain.
func (q *Queue) process(ctx context.Context, item Item) {
	logger := q.logger.With(zap.String("category", item.Category), zap.String("track_id", item.Track.ID))
	start := time.Now()

	monitoring.RecordDownloadStart()
	q.notifier.NotifyStarted(item)
	logger.Info("download started", zap.String("title", item.Track.Title))

	entry, err := q.fetchPair(ctx, item)
	if err == nil {
		if err = q.store.Append(ctx, item.Category, entry); err != nil {
			if cleanupErr := q.removeFiles(entry.LocalAudioPath, entry.LocalImagePath); cleanupErr != nil {
				logger.Warn("failed to clean up after metadata write failure", zap.Error(cleanupErr))
			}
		}
	}

	if err != nil {
		reason := FailureReasonOf(err)
		monitoring.RecordDownloadFailed(item.Category, string(apperrors.GetErrorType(err)))
		logger.Error("download failed",
			zap.String("reason", string(reason)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		q.notifier.NotifyFailed(item, reason, err)
		return
	}

	monitoring.RecordDownloadComplete(item.Category, time.Since(start))
	logger.Info("download completed", zap.Duration("elapsed", time.Since(start)))
	q.notifier.NotifyCompleted(item, entry)
}

// fetchPair downloads audio then artwork. Both must succeed; when the artwork
// fails the audio is removed again.
func (q *Queue) fetchPair(ctx context.Context, item Item) (store.CachedTrack, error) {
	track := item.Track
	if track.AudioURL == "" || track.ImageURL == "" {
		return store.CachedTrack{}, apperrors.NewValidationError(fmt.Sprintf("track %s is missing a media url", item.Key()))
	}

	audioPath, err := q.fetcher.Fetch(ctx, track.AudioURL, q.layout.AudioPath(item.Category, track.ID))
	if err != nil {
		return store.CachedTrack{}, fmt.Errorf("failed to fetch audio: %w", err)
	}

	imagePath, err := q.fetcher.Fetch(ctx, track.ImageURL, q.layout.ImagePath(item.Category, track.ID))
	if err != nil {
		if cleanupErr := q.removeFiles(audioPath); cleanupErr != nil {
			q.logger.Warn("failed to remove orphaned audio", zap.String("path", audioPath), zap.Error(cleanupErr))
		}
		return store.CachedTrack{}, fmt.Errorf("failed to fetch artwork: %w", err)
	}

	return store.CachedTrack{
		ID:             track.ID,
		Title:          track.Title,
		Author:         track.Author,
		Duration:       track.Duration,
		LocalImagePath: imagePath,
		LocalAudioPath: audioPath,
	}, nil
}

func (q *Queue) removeFiles(paths ...string) error {
	if q.remover == nil {
		return nil
	}
	var err error
	for _, p := range paths {
		err = multierr.Append(err, q.remover.Remove(p))
	}
	return err
}
