package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// ContentIndex provides full-text search over overlay documents using a Bleve in-memory index.
type ContentIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	// docs keeps raw text and metadata for line-level result extraction
	docs map[string]Document // key: entry path
}

// NewContentIndex creates a new in-memory Bleve content index.
func NewContentIndex() (*ContentIndex, error) {
	bleveIndex, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}

	return &ContentIndex{
		index: bleveIndex,
		docs:  make(map[string]Document),
	}, nil
}

// bleveDocument is the document structure stored in Bleve.
type bleveDocument struct {
	Content string `json:"content"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// buildIndexMapping creates the Bleve index mapping for document content.
func buildIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	contentFieldMapping := bleve.NewTextFieldMapping()
	contentFieldMapping.Store = false // Text lives in docs
	contentFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt("content", contentFieldMapping)

	pathFieldMapping := bleve.NewTextFieldMapping()
	pathFieldMapping.Store = true
	pathFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("path", pathFieldMapping)

	for _, field := range []string{"kind", "status"} {
		keyword := bleve.NewKeywordFieldMapping()
		keyword.Store = true
		keyword.IncludeInAll = false
		docMapping.AddFieldMappingsAt(field, keyword)
	}

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexDocument adds or replaces the document stored under doc.Path.
func (ci *ContentIndex) IndexDocument(doc Document) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	err := ci.index.Index(doc.Path, bleveDocument{
		Content: doc.Text,
		Path:    doc.Path,
		Kind:    string(doc.Kind),
		Status:  string(doc.Status),
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", doc.Path, err)
	}
	ci.docs[doc.Path] = doc
	return nil
}

// Remove deletes the document at path. Removing an unknown path is not an error.
func (ci *ContentIndex) Remove(path string) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	delete(ci.docs, path)
	if err := ci.index.Delete(path); err != nil {
		return fmt.Errorf("removing %s from index: %w", path, err)
	}
	return nil
}

// Stamp returns the revision stamp indexed for path.
func (ci *ContentIndex) Stamp(path string) (int64, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	doc, ok := ci.docs[path]
	return doc.Stamp, ok
}

// Document returns the indexed document at path.
func (ci *ContentIndex) Document(path string) (Document, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	doc, ok := ci.docs[path]
	return doc, ok
}

// Paths returns every indexed path in sorted order.
func (ci *ContentIndex) Paths() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	paths := make([]string, 0, len(ci.docs))
	for p := range ci.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DocumentCount returns the number of documents in the Bleve index.
func (ci *ContentIndex) DocumentCount() uint64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	count, _ := ci.index.DocCount()
	return count
}

// TotalBytes returns the size of all indexed text.
func (ci *ContentIndex) TotalBytes() int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var total int64
	for _, doc := range ci.docs {
		total += int64(len(doc.Text))
	}
	return total
}

// KindCounts returns kind -> document count.
func (ci *ContentIndex) KindCounts() map[string]int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	counts := make(map[string]int)
	for _, doc := range ci.docs {
		counts[string(doc.Kind)]++
	}
	return counts
}

// Close closes the Bleve index.
func (ci *ContentIndex) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.index.Close()
}

// Clear removes all documents and recreates the index.
func (ci *ContentIndex) Clear() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if err := ci.index.Close(); err != nil {
		return fmt.Errorf("closing old index: %w", err)
	}

	newIndex, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("creating new index: %w", err)
	}

	ci.index = newIndex
	ci.docs = make(map[string]Document)
	return nil
}
