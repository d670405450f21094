package store

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	apperrors "github.com/deemusic/songcache/internal/errors"
)

const (
	// DefaultKey is the key the index is persisted under
	DefaultKey = "downloadedSongs"
	// DefaultCategory holds tracks enqueued without a category
	DefaultCategory = "default"
)

// CachedTrack is a track whose audio and artwork are both complete on disk
type CachedTrack struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	Duration       string `json:"duration"`
	LocalImagePath string `json:"image"`
	LocalAudioPath string `json:"uri"`
}

// Index maps a category name to its cached tracks.
// A category with no tracks may be absent or hold an empty list. A nil list
// and an empty list are the same category; Clone, and so every save and
// load, normalizes nil to empty.
type Index map[string][]CachedTrack

// Clone returns a deep copy with every nil list replaced by an empty one
func (idx Index) Clone() Index {
	out := make(Index, len(idx))
	for category, tracks := range idx {
		copied := make([]CachedTrack, len(tracks))
		copy(copied, tracks)
		out[category] = copied
	}
	return out
}

// Lookup finds an entry by its (category, id) identity
func (idx Index) Lookup(category, id string) (CachedTrack, bool) {
	return lo.Find(idx[category], func(t CachedTrack) bool {
		return t.ID == id
	})
}

// Contains reports whether (category, id) is cached
func (idx Index) Contains(category, id string) bool {
	_, ok := idx.Lookup(category, id)
	return ok
}

// Len returns the number of entries across all categories
func (idx Index) Len() int {
	n := 0
	for _, tracks := range idx {
		n += len(tracks)
	}
	return n
}

func (idx Index) validate() error {
	if idx == nil {
		return apperrors.NewMalformedMetadataError("index is nil", nil)
	}
	for category, tracks := range idx {
		if category == "" {
			return apperrors.NewMalformedMetadataError("index has an empty category name", nil)
		}
		for _, t := range tracks {
			if t.ID == "" {
				return apperrors.NewMalformedMetadataError(fmt.Sprintf("entry in category %s has no id", category), nil)
			}
		}
	}
	return nil
}

// MetadataStore owns the durable index of cached tracks. It is the only
// writer of the index key; every mutation persists before the in-memory
// snapshot is replaced.
type MetadataStore struct {
	kv     KVStore
	key    string
	logger *zap.Logger

	mu    sync.RWMutex
	index Index
}

// NewMetadataStore creates a store over kv. An empty key selects DefaultKey.
func NewMetadataStore(kv KVStore, key string, logger *zap.Logger) *MetadataStore {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataStore{
		kv:     kv,
		key:    key,
		logger: logger.Named("metadata"),
		index:  Index{},
	}
}

// Load reads the persisted index. Missing or unparsable data yields an empty
// index; Load never fails the caller.
func (s *MetadataStore) Load(ctx context.Context) Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kv.Get(ctx, s.key)
	switch {
	case err != nil:
		s.logger.Error("failed to read metadata, starting empty", zap.Error(err))
		s.index = Index{}
	case !ok:
		s.logger.Info("no metadata persisted yet")
		s.index = Index{}
	default:
		idx, err := decodeIndex([]byte(raw))
		if err != nil {
			s.logger.Warn("persisted metadata is unusable, starting empty", zap.Error(err))
			s.index = Index{}
		} else {
			s.index = idx
		}
	}

	s.logger.Debug("metadata loaded",
		zap.Int("categories", len(s.index)),
		zap.Int("entries", s.index.Len()),
	)
	return s.index.Clone()
}

// Save validates and persists idx, then replaces the snapshot. A malformed
// index is rejected with a MalformedMetadataError and nothing changes.
func (s *MetadataStore) Save(ctx context.Context, idx Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, idx)
}

// SaveJSON saves a raw JSON index after checking it is an object of lists
func (s *MetadataStore) SaveJSON(ctx context.Context, raw []byte) error {
	idx, err := decodeIndex(raw)
	if err != nil {
		s.logger.Warn("rejected metadata payload", zap.Error(err))
		return err
	}
	return s.Save(ctx, idx)
}

// Append adds one entry to a category and persists the whole index
func (s *MetadataStore) Append(ctx context.Context, category string, track CachedTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.index.Clone()
	next[category] = append(next[category], track)
	return s.saveLocked(ctx, next)
}

// Remove drops (category, id) from the index. Removing an absent entry is a
// no-op. The category is kept as an empty list when its last entry goes.
func (s *MetadataStore) Remove(ctx context.Context, category, id string) error {
	return s.RemoveEntries(ctx, category, id)
}

// RemoveEntries drops several ids from one category in a single save
func (s *MetadataStore) RemoveEntries(ctx context.Context, category string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := lo.Filter(ids, func(id string, _ int) bool {
		return s.index.Contains(category, id)
	})
	if len(drop) == 0 {
		return nil
	}

	next := s.index.Clone()
	next[category] = lo.Reject(next[category], func(t CachedTrack, _ int) bool {
		return lo.Contains(drop, t.ID)
	})
	return s.saveLocked(ctx, next)
}

// RemoveCategory drops ids from category and removes the category key once
// nothing is left in it. Entries not named in ids, such as one appended by a
// download that finished meanwhile, are kept along with the key.
func (s *MetadataStore) RemoveCategory(ctx context.Context, category string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[category]; !ok {
		return nil
	}

	next := s.index.Clone()
	remaining := lo.Reject(next[category], func(t CachedTrack, _ int) bool {
		return lo.Contains(ids, t.ID)
	})
	if len(remaining) > 0 {
		if len(remaining) == len(next[category]) {
			return nil
		}
		next[category] = remaining
		s.logger.Info("category kept, entries added since delete began",
			zap.String("category", category),
			zap.Int("kept", len(remaining)),
		)
	} else {
		delete(next, category)
	}
	return s.saveLocked(ctx, next)
}

// Snapshot returns a copy of the current index
func (s *MetadataStore) Snapshot() Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Clone()
}

// Category returns a copy of one category's entries
func (s *MetadataStore) Category(category string) []CachedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks := make([]CachedTrack, len(s.index[category]))
	copy(tracks, s.index[category])
	return tracks
}

// Lookup finds a cached entry
func (s *MetadataStore) Lookup(category, id string) (CachedTrack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Lookup(category, id)
}

// Contains reports whether (category, id) is cached
func (s *MetadataStore) Contains(category, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Contains(category, id)
}

// Ping checks the persistence backend
func (s *MetadataStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close releases the persistence backend
func (s *MetadataStore) Close() error {
	return s.kv.Close()
}

func (s *MetadataStore) saveLocked(ctx context.Context, idx Index) error {
	if err := idx.validate(); err != nil {
		s.logger.Warn("attempted to save invalid metadata", zap.Error(err))
		return err
	}

	next := idx.Clone()
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.logger.Error("failed to persist metadata", zap.Error(err))
		return fmt.Errorf("failed to persist metadata: %w", err)
	}

	s.index = next
	s.logger.Debug("metadata persisted",
		zap.Int("categories", len(next)),
		zap.Int("entries", next.Len()),
	)
	return nil
}

// decodeIndex parses a raw index, rejecting anything that is not an object
// whose values are all lists
func decodeIndex(raw []byte) (Index, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apperrors.NewMalformedMetadataError("metadata is not valid JSON", nil)
	}

	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, apperrors.NewMalformedMetadataError(fmt.Sprintf("metadata must be an object, got %s", parsed.Type), nil)
	}

	var shapeErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			shapeErr = apperrors.NewMalformedMetadataError(fmt.Sprintf("category %s is not a list", key.String()), nil)
			return false
		}
		return true
	})
	if shapeErr != nil {
		return nil, shapeErr
	}

	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, apperrors.NewMalformedMetadataError("failed to unmarshal metadata", err)
	}

	if err := idx.validate(); err != nil {
		return nil, err
	}

	return idx.Clone(), nil
}
