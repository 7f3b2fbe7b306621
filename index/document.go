package index

import (
	"github.com/lexandro/mdspace-mcp/doctype"
	"github.com/lexandro/mdspace-mcp/entry"
)

// Document is the merged view of one file entry: overlay text when present, disk text otherwise.
type Document struct {
	Path    string // root-prefixed entry path, the index key
	EntryID string
	Kind    doctype.Kind
	Status  entry.Status
	Text    string
	// Stamp identifies the revision indexed; a different stamp means the document is stale.
	Stamp int64
}

// Stamp returns the revision stamp of e: the later of its overlay update and disk modification.
func Stamp(e *entry.Entry) int64 {
	stamp := e.UpdatedAt
	if e.DiskLastModified.After(stamp) {
		stamp = e.DiskLastModified
	}
	return stamp.UnixMilli()
}
