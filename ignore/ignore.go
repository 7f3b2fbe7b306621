package ignore

import (
	"io"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Matcher decides which paths a scan skips.
// It combines ignored folder names, built-in file patterns, .gitignore rules, custom doublestar
// patterns, and the document extension filter. All paths are slash-separated and relative to the
// scanned root ("notes/a.md"), so the matcher works for any handle-backed tree.
// Thread-safe: Reload() acquires a write lock, ShouldIgnore()/ShouldIgnoreDir() acquire a read lock.
type Matcher struct {
	mu             sync.RWMutex
	gitIgnore      gitignore.GitIgnore
	ignoredFolders map[string]bool
	customPatterns []string
	extensions     map[string]bool
}

// MatcherOptions configures the ignore matcher.
type MatcherOptions struct {
	// IgnoredFolders are folder names skipped at any depth. Nil means DefaultIgnoredFolders.
	IgnoredFolders []string
	// CustomPatterns are doublestar patterns matched against the relative path and the base name.
	CustomPatterns []string
	// Extensions without the dot. Empty accepts every file that no other rule ignores.
	Extensions []string
	// GitIgnore is the content of the root's .gitignore, if any.
	GitIgnore io.Reader
}

// NewMatcher creates an ignore matcher.
func NewMatcher(options MatcherOptions) *Matcher {
	folders := options.IgnoredFolders
	if folders == nil {
		folders = DefaultIgnoredFolders
	}
	matcher := &Matcher{
		ignoredFolders: make(map[string]bool, len(folders)),
		customPatterns: options.CustomPatterns,
		extensions:     make(map[string]bool, len(options.Extensions)),
	}
	for _, name := range folders {
		matcher.ignoredFolders[strings.ToLower(name)] = true
	}
	for _, ext := range options.Extensions {
		matcher.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	matcher.gitIgnore = parseGitIgnore(options.GitIgnore)
	return matcher
}

// ShouldIgnoreDir returns true if a directory should be skipped entirely during traversal.
func (m *Matcher) ShouldIgnoreDir(relativePath string) bool {
	relativePath = clean(relativePath)
	if relativePath == "" {
		return false
	}

	// Fast check on the folder name (no lock needed, the map is never mutated)
	if m.ignoredFolders[strings.ToLower(path.Base(relativePath))] {
		return true
	}
	return m.ignoredByRules(relativePath, true)
}

// ShouldIgnore returns true if the file at relativePath should be excluded from scans.
// Folder components of the path are checked too, so a file inside an ignored folder is ignored.
func (m *Matcher) ShouldIgnore(relativePath string) bool {
	relativePath = clean(relativePath)
	if relativePath == "" {
		return false
	}

	parts := strings.Split(relativePath, "/")
	for _, part := range parts[:len(parts)-1] {
		if m.ignoredFolders[strings.ToLower(part)] {
			return true
		}
	}

	baseName := strings.ToLower(parts[len(parts)-1])
	for _, pattern := range DefaultIgnorePatterns {
		if matched, _ := path.Match(pattern, baseName); matched {
			return true
		}
	}

	if m.ignoredByRules(relativePath, false) {
		return true
	}
	return !m.acceptsExtension(baseName)
}

// IsDocument reports whether name carries one of the accepted extensions.
func (m *Matcher) IsDocument(name string) bool {
	return m.acceptsExtension(strings.ToLower(name))
}

// Reload replaces the .gitignore rules. Used when the watcher sees the file change.
func (m *Matcher) Reload(gitIgnore io.Reader) {
	parsed := parseGitIgnore(gitIgnore)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitIgnore = parsed
}

func (m *Matcher) ignoredByRules(relativePath string, isDir bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Relative() does not require the file to exist on disk
	if m.gitIgnore != nil {
		match := m.gitIgnore.Relative(relativePath, isDir)
		if match != nil && match.Ignore() {
			return true
		}
	}
	return m.matchesCustomPatterns(relativePath)
}

// matchesCustomPatterns checks if the path matches any user-provided pattern.
func (m *Matcher) matchesCustomPatterns(relativePath string) bool {
	baseName := path.Base(relativePath)
	for _, pattern := range m.customPatterns {
		if matched, err := doublestar.Match(pattern, relativePath); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, baseName); err == nil && matched {
			return true
		}
	}
	return false
}

func (m *Matcher) acceptsExtension(lowerName string) bool {
	if len(m.extensions) == 0 {
		return true
	}
	idx := strings.LastIndexByte(lowerName, '.')
	if idx <= 0 {
		return false
	}
	return m.extensions[lowerName[idx+1:]]
}

func clean(relativePath string) string {
	return strings.Trim(strings.ReplaceAll(relativePath, "\\", "/"), "/")
}

// parseGitIgnore builds a matcher from .gitignore content. The base only anchors relative
// matching, so a fixed root works for handle-backed trees.
func parseGitIgnore(r io.Reader) gitignore.GitIgnore {
	if r == nil {
		return nil
	}
	return gitignore.New(r, "/", nil)
}
