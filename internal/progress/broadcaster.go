// Package progress implements per-document publish/subscribe progress
// streaming with a bounded-buffer, drop-oldest backpressure policy so slow
// consumers can never stall producers.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one progress update for a document. Percent is always recomputed
// server-side from done/total, never trusted from upstream.
type Event struct {
	DocumentID    string    `json:"document_id"`
	Status        string    `json:"status"`
	PagesDone     int       `json:"done"`
	TotalPages    int       `json:"total"`
	Percent       int       `json:"percent"`
	CurrentPage   int       `json:"page,omitempty"`
	AvgConfidence float64   `json:"avg_confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// defaultBufferSize is the per-subscriber event buffer. When it fills, the
// oldest buffered event is dropped; delivery is at-most-once per event.
const defaultBufferSize = 16

// Broadcaster fans progress events out to any number of subscribers per
// document. Subscribers detach with Subscription.Close; there is no
// cross-document ordering guarantee.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
}

// Subscription is one attached observer of a document's progress.
type Subscription struct {
	// C receives progress events until Close is called.
	C <-chan Event

	ch    chan Event
	docID string
	b     *Broadcaster
	once  sync.Once
}

// NewBroadcaster creates a broadcaster. bufferSize <= 0 uses the default.
func NewBroadcaster(bufferSize int, logger *slog.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe attaches an observer to a document's progress stream.
func (b *Broadcaster) Subscribe(docID string) *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{C: ch, ch: ch, docID: docID, b: b}

	b.mu.Lock()
	if b.subs[docID] == nil {
		b.subs[docID] = make(map[*Subscription]struct{})
	}
	b.subs[docID][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		if set, ok := s.b.subs[s.docID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.b.subs, s.docID)
			}
		}
		s.b.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers an event to all subscribers of the event's document.
// Percent is recomputed here regardless of what the caller set. If a
// subscriber's buffer is full the oldest buffered event is discarded.
func (b *Broadcaster) Publish(ev Event) {
	if ev.TotalPages > 0 {
		ev.Percent = ev.PagesDone * 100 / ev.TotalPages
	} else {
		ev.Percent = 0
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[ev.DocumentID] {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: drop the oldest event, then retry once.
			select {
			case <-sub.ch:
				b.logger.Debug("dropped oldest progress event for slow subscriber",
					"document_id", ev.DocumentID)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of observers attached to a document.
func (b *Broadcaster) SubscriberCount(docID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[docID])
}
