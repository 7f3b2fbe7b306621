// Package doctype classifies overlay documents by name and content.
package doctype

import (
	"path"
	"strings"
)

// Kind names the document format of an entry.
type Kind string

const (
	Markdown Kind = "Markdown"
	MDX      Kind = "MDX"
	Text     Kind = "Text"
	Unknown  Kind = "Unknown"
)

// extensionKinds maps lower-case extensions (without dot) to kinds.
var extensionKinds = map[string]Kind{
	"md": Markdown, "markdown": Markdown, "mdown": Markdown, "mkd": Markdown, "mkdn": Markdown,
	"mdx":  MDX,
	"txt":  Text,
	"text": Text,
}

// Detect returns the kind of a document from its path or name.
func Detect(name string) Kind {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if kind, ok := extensionKinds[ext]; ok {
		return kind
	}
	switch strings.ToLower(path.Base(name)) {
	case "readme", "changelog", "license", "notes", "todo":
		return Text
	}
	return Unknown
}

// IsMarkdown reports whether the kind renders as markdown.
func (k Kind) IsMarkdown() bool {
	return k == Markdown || k == MDX
}
