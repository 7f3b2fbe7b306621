// Package events publishes overlay changes to listeners.
package events

import (
	"sync"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
)

const (
	// EventSetChanged means entries were added, removed or replaced; listeners should reload the set.
	EventSetChanged = "set-changed"
	// EventReloaded means an open entry adopted newer disk content; views should refetch.
	EventReloaded = "reloaded"
	// EventConflict carries the conflicting entry and the fresh disk text.
	EventConflict = "conflict"
	// EventPermissionLost means a background check found access withdrawn.
	EventPermissionLost = "permission-lost"
	// EventEntryChanged means a single entry was edited through the overlay.
	EventEntryChanged = "entry-changed"
)

// Event is one overlay notification.
type Event struct {
	Type      string       `json:"type"`
	EntryID   string       `json:"entryId,omitempty"`
	Path      string       `json:"path,omitempty"`
	Status    entry.Status `json:"status,omitempty"`
	DiskText  string       `json:"diskText,omitempty"`
	Missing   []string     `json:"missing,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers. A nil broadcaster drops everything.
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
