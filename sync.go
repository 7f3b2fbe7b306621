package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/index"
)

// SyncResult holds the outcome of a single index verification run.
type SyncResult struct {
	MissingDocs  int // entries not in the index
	StaleDocs    int // indexed paths no longer in the entry set
	ModifiedDocs int // entries whose stamp or status changed
	Skipped      int // entries whose text could not be read this run
	Duration     time.Duration
}

// Changed reports whether the run touched the index.
func (r SyncResult) Changed() bool {
	return r.MissingDocs+r.StaleDocs+r.ModifiedDocs > 0
}

// runPeriodicSync verifies the search index at the given interval and whenever the overlay
// publishes an event. It runs until stop is closed.
func runPeriodicSync(
	ctx context.Context,
	interval time.Duration,
	ix *indexer,
	trigger <-chan events.Event,
	logger *slog.Logger,
	stop <-chan struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("index sync started", "interval", interval)

	run := func(reason string) {
		result := ix.verify(ctx)
		if result.Changed() {
			logger.Info("index sync complete",
				"reason", reason,
				"missing", result.MissingDocs,
				"stale", result.StaleDocs,
				"modified", result.ModifiedDocs,
				"skipped", result.Skipped,
				"duration", result.Duration,
			)
		} else {
			logger.Debug("index sync complete, index is in sync", "reason", reason, "duration", result.Duration)
		}
	}

	for {
		select {
		case <-stop:
			logger.Info("index sync stopped")
			return
		case <-ticker.C:
			run("timer")
		case event, ok := <-trigger:
			if !ok {
				trigger = nil
				continue
			}
			// Collapse a burst of events into one run
			drain(trigger)
			run(event.Type)
		}
	}
}

func drain(ch <-chan events.Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// verify compares the entry set with the index state and re-indexes what is out of step.
func (ix *indexer) verify(ctx context.Context) SyncResult {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	var result SyncResult

	entries, err := ix.entries()
	if err != nil {
		ix.logger.Warn("index sync: listing entries failed", "error", err)
		result.Duration = time.Since(start)
		return result
	}

	current := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !indexable(e) {
			continue
		}
		current[e.Path] = true

		indexed, exists := ix.contentIndex.Document(e.Path)
		if exists && upToDate(indexed, e) {
			continue
		}

		doc, err := ix.document(ctx, e)
		if err != nil {
			// Keep the previous text until the entry can be read again
			ix.logger.Debug("index sync: skipped document", "path", e.Path, "error", err)
			result.Skipped++
			continue
		}
		if err := ix.contentIndex.IndexDocument(doc); err != nil {
			ix.logger.Warn("index sync: indexing failed", "path", e.Path, "error", err)
			continue
		}
		if exists {
			result.ModifiedDocs++
		} else {
			result.MissingDocs++
		}
	}

	for _, path := range ix.contentIndex.Paths() {
		if current[path] {
			continue
		}
		if err := ix.contentIndex.Remove(path); err != nil {
			ix.logger.Warn("index sync: removal failed", "path", path, "error", err)
			continue
		}
		result.StaleDocs++
	}

	result.Duration = time.Since(start)
	return result
}

func upToDate(doc index.Document, e *entry.Entry) bool {
	if doc.Stamp != index.Stamp(e) || doc.Status != e.Status || doc.EntryID != e.ID {
		return false
	}
	return !e.HasOverride() || doc.Text == e.Override()
}
