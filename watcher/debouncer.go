package watcher

import (
	"sync"
	"time"
)

// DebouncedEvent represents a batched file system event. Path is root-prefixed
// ("docs/notes/a.md"), the same form entries use.
type DebouncedEvent struct {
	Path  string
	Op    EventOp
	IsDir bool
}

// EventOp represents the type of file system operation.
type EventOp int

const (
	OpCreate EventOp = iota
	OpWrite
	OpRemove
	OpRename
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	}
	return "unknown"
}

// Debouncer collects file system events and emits batched events after a quiet period.
// Multiple events for the same path within the debounce window are merged into one.
type Debouncer struct {
	interval time.Duration
	events   map[string]DebouncedEvent
	mu       sync.Mutex
	timer    *time.Timer
	output   chan []DebouncedEvent
	stopped  bool
}

// NewDebouncer creates a debouncer with the specified quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		events:   make(map[string]DebouncedEvent),
		output:   make(chan []DebouncedEvent, 16),
	}
}

// Output returns the channel that receives batched events.
func (d *Debouncer) Output() <-chan []DebouncedEvent {
	return d.output
}

// Add adds an event to the debounce window, merging it with a pending event for the same path.
func (d *Debouncer) Add(event DebouncedEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.events[event.Path]; ok {
		merged, keep := merge(prev, event)
		if !keep {
			delete(d.events, event.Path)
		} else {
			d.events[event.Path] = merged
		}
	} else {
		d.events[event.Path] = event
	}

	// Reset the timer each time a new event arrives
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

// merge folds next into a pending event. A path created and removed inside one
// window is dropped; a create followed by writes stays a create.
func merge(prev, next DebouncedEvent) (DebouncedEvent, bool) {
	switch {
	case prev.Op == OpCreate && next.Op == OpWrite:
		return prev, true
	case prev.Op == OpCreate && (next.Op == OpRemove || next.Op == OpRename):
		return DebouncedEvent{}, false
	case prev.Op == OpRemove && next.Op == OpCreate:
		next.Op = OpWrite
		return next, true
	}
	return next, true
}

// Stop cancels the pending flush, drops buffered events and closes the output channel.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.events = make(map[string]DebouncedEvent)
	close(d.output)
}

// flush sends the accumulated events to the output channel and resets the buffer.
// A full output channel drops the batch; consumers rescan anyway.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 || d.stopped {
		return
	}

	batch := make([]DebouncedEvent, 0, len(d.events))
	for _, event := range d.events {
		batch = append(batch, event)
	}

	d.events = make(map[string]DebouncedEvent)
	select {
	case d.output <- batch:
	default:
	}
}
