package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/doctype"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/index"
)

var (
	errBinary   = errors.New("binary content")
	errDetached = errors.New("entry is detached")
)

// entrySource lists the entries to index.
type entrySource func() ([]*entry.Entry, error)

// textSource returns the disk text of a file entry (background access only).
type textSource func(ctx context.Context, e *entry.Entry) (string, error)

// indexer keeps the search index in step with the merged view of the overlay.
type indexer struct {
	entries      entrySource
	diskText     textSource
	contentIndex *index.ContentIndex
	logger       *slog.Logger

	mu sync.Mutex // one run at a time
}

// indexable reports whether e belongs in the search index.
func indexable(e *entry.Entry) bool {
	return !e.IsFolder() && !e.IsHidden
}

// document builds the merged-view document of e: overlay text when present, disk text otherwise.
func (ix *indexer) document(ctx context.Context, e *entry.Entry) (index.Document, error) {
	var text string
	switch {
	case e.HasOverride():
		text = e.Override()
	case e.IsWebOnly:
	default:
		var err error
		text, err = readWithRetry(ctx, ix.diskText, e)
		if err != nil {
			return index.Document{}, err
		}
	}
	if doctype.IsBinary(text) {
		return index.Document{}, errBinary
	}
	return index.Document{
		Path:    e.Path,
		EntryID: e.ID,
		Kind:    doctype.Detect(e.Name),
		Status:  e.Status,
		Text:    text,
		Stamp:   index.Stamp(e),
	}, nil
}

// readWithRetry reads disk text, retrying once after a short delay for files that are
// being saved by an editor. Permission and detach errors are not retried.
func readWithRetry(ctx context.Context, read textSource, e *entry.Entry) (string, error) {
	text, err := read(ctx, e)
	if err == nil || errors.Is(err, capability.ErrPermissionLost) || errors.Is(err, errDetached) {
		return text, err
	}
	time.Sleep(50 * time.Millisecond)
	return read(ctx, e)
}

// reindexAll clears the search index and rebuilds it with a bounded worker pool.
// Returns the number of documents indexed and total bytes processed.
func (ix *indexer) reindexAll(ctx context.Context) (int, int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries, err := ix.entries()
	if err != nil {
		return 0, 0, fmt.Errorf("listing entries: %w", err)
	}
	if err := ix.contentIndex.Clear(); err != nil {
		return 0, 0, err
	}

	var indexedCount int
	var totalSize int64
	var mu sync.Mutex

	const workerCount = 8
	jobs := make(chan *entry.Entry, 100)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				doc, err := ix.document(ctx, e)
				if err != nil {
					ix.logger.Debug("skipped document", "path", e.Path, "error", err)
					continue
				}
				if err := ix.contentIndex.IndexDocument(doc); err != nil {
					ix.logger.Warn("failed to index document", "path", e.Path, "error", err)
					continue
				}
				mu.Lock()
				indexedCount++
				totalSize += int64(len(doc.Text))
				mu.Unlock()
			}
		}()
	}

	for _, e := range entries {
		if indexable(e) {
			jobs <- e
		}
	}
	close(jobs)
	wg.Wait()

	return indexedCount, totalSize, nil
}
