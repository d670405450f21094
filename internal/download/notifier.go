package download

import (
	"sync"
	"time"

	apperrors "github.com/deemusic/songcache/internal/errors"
	"github.com/deemusic/songcache/internal/store"
)

// EventType identifies a queue notification
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// FailureReason tells the presentation layer which recovery to suggest
type FailureReason string

const (
	// ReasonStorageFull means device storage ran out; freeing space may help
	ReasonStorageFull FailureReason = "storage_full"
	// ReasonDownloadFailed covers every other failure
	ReasonDownloadFailed FailureReason = "download_failed"
)

// FailureReasonOf classifies a download error
func FailureReasonOf(err error) FailureReason {
	if apperrors.IsStorageFull(err) {
		return ReasonStorageFull
	}
	return ReasonDownloadFailed
}

// Notifier receives queue events. Calls happen on the queue goroutine and
// must not block.
type Notifier interface {
	NotifyStarted(item Item)
	NotifyCompleted(item Item, entry store.CachedTrack)
	NotifyFailed(item Item, reason FailureReason, err error)
}

// Event is a notification as delivered to subscribers
type Event struct {
	Type      EventType          `json:"type"`
	Category  string             `json:"category"`
	TrackID   string             `json:"track_id"`
	Title     string             `json:"title"`
	Entry     *store.CachedTrack `json:"entry,omitempty"`
	Reason    FailureReason      `json:"reason,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Subscriber receives events from a Broadcaster
type Subscriber struct {
	ID     string
	Events chan Event
	mu     sync.Mutex
	closed bool
}

// send delivers without blocking; a full buffer drops the event
func (s *Subscriber) send(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.Events <- e:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.Events)
	}
}

// BroadcastStats counts outcomes seen by a Broadcaster
type BroadcastStats struct {
	Started   int
	Completed int
	Failed    int
	Dropped   int
}

// Broadcaster is a Notifier that fans events out to subscribers
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	statsMu sync.Mutex
	stats   BroadcastStats
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber with the given buffer size. Subscribing
// again with the same id replaces the earlier subscriber.
func (b *Broadcaster) Subscribe(id string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 64
	}
	sub := &Subscriber{ID: id, Events: make(chan Event, buffer)}

	b.mu.Lock()
	if old, ok := b.subscribers[id]; ok {
		old.close()
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		sub.close()
	}
}

// Close unsubscribes everyone
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.close()
	}
}

// SubscriberCount returns the number of subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns a copy of the outcome counters
func (b *Broadcaster) Stats() BroadcastStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Broadcaster) NotifyStarted(item Item) {
	b.count(func(s *BroadcastStats) { s.Started++ })
	b.publish(newEvent(EventStarted, item))
}

func (b *Broadcaster) NotifyCompleted(item Item, entry store.CachedTrack) {
	b.count(func(s *BroadcastStats) { s.Completed++ })
	e := newEvent(EventCompleted, item)
	e.Entry = &entry
	b.publish(e)
}

func (b *Broadcaster) NotifyFailed(item Item, reason FailureReason, err error) {
	b.count(func(s *BroadcastStats) { s.Failed++ })
	e := newEvent(EventFailed, item)
	e.Reason = reason
	if err != nil {
		e.Error = err.Error()
	}
	b.publish(e)
}

func (b *Broadcaster) publish(e Event) {
	dropped := 0

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if !sub.send(e) {
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.count(func(s *BroadcastStats) { s.Dropped += dropped })
	}
}

func (b *Broadcaster) count(update func(s *BroadcastStats)) {
	b.statsMu.Lock()
	update(&b.stats)
	b.statsMu.Unlock()
}

func newEvent(t EventType, item Item) Event {
	return Event{
		Type:      t,
		Category:  item.Category,
		TrackID:   item.Track.ID,
		Title:     item.Track.Title,
		Timestamp: time.Now(),
	}
}

// nopNotifier discards events
type nopNotifier struct{}

func (nopNotifier) NotifyStarted(Item) {}
func (nopNotifier) NotifyCompleted(Item, store.CachedTrack) {}
func (nopNotifier) NotifyFailed(Item, FailureReason, error) {}
