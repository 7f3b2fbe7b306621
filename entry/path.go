package entry

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidName is returned for names that cannot be a single path segment.
var ErrInvalidName = errors.New("invalid name")

// Join appends name to parent. An empty parent yields name.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Parent returns everything before the last segment, or "" for a top-level path.
func Parent(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Base returns the last segment of path.
func Base(path string) string {
	idx := strings.LastIndexByte(path, '/')
	return path[idx+1:]
}

// RootName returns the first segment of path (the opened root folder name).
func RootName(path string) string {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// Within reports whether path equals prefix or lies below it.
func Within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Below reports whether path lies strictly below prefix.
func Below(path, prefix string) bool {
	return strings.HasPrefix(path, prefix+"/")
}

// Rebase replaces the oldPrefix of path with newPrefix. Paths outside oldPrefix are returned as is.
func Rebase(path, oldPrefix, newPrefix string) string {
	if path == oldPrefix {
		return newPrefix
	}
	if Below(path, oldPrefix) {
		return newPrefix + path[len(oldPrefix):]
	}
	return path
}

// Relative strips the root segment, returning the path inside the root ("" for the root itself).
func Relative(path string) string {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return ""
}

// Segments splits a slash path, dropping empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateName checks that name is usable as a single path segment.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	}
	return nil
}

// NormalizePath converts backslashes, trims stray separators and puts the path in NFC form,
// so names typed by the user match names listed from disk.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return norm.NFC.String(strings.Join(Segments(path), "/"))
}
