package entry

import "time"

// Settings is the process-wide configuration record stored under settings["app"].
type Settings struct {
	Theme                 string        `json:"theme"`
	PollingActiveInterval time.Duration `json:"pollingActiveInterval"`
	DirectoryScanInterval time.Duration `json:"directoryScanInterval"`
	IgnoredFolders        []string      `json:"ignoredFolders"`
	Extensions            []string      `json:"extensions"`
	MaxDepth              int           `json:"maxDepth"`
	MaxEntries            int           `json:"maxEntries"`
}

const (
	DefaultActiveInterval        = 30 * time.Second
	DefaultDirectoryScanInterval = 60 * time.Second
	DefaultMaxDepth              = 12
	DefaultMaxEntries            = 5000
)

// DefaultIgnoredFolders are folder names skipped by every scan unless settings override them.
var DefaultIgnoredFolders = []string{
	".git", ".svn", ".hg",
	"node_modules", "bower_components", "vendor",
	".idea", ".vscode", ".vs",
	".cache", ".next", ".nuxt", "dist", "build",
	".venv", "venv", "__pycache__",
	".mdspace",
}

// DefaultExtensions are the document extensions (without dot) picked up by scans.
var DefaultExtensions = []string{"md", "markdown", "mdown", "mkd", "mdx", "txt"}

// DefaultSettings returns the settings used before anything was stored.
func DefaultSettings() Settings {
	return Settings{
		Theme:                 "system",
		PollingActiveInterval: DefaultActiveInterval,
		DirectoryScanInterval: DefaultDirectoryScanInterval,
		IgnoredFolders:        append([]string(nil), DefaultIgnoredFolders...),
		Extensions:            append([]string(nil), DefaultExtensions...),
		MaxDepth:              DefaultMaxDepth,
		MaxEntries:            DefaultMaxEntries,
	}
}

// Normalize fills zero fields with defaults so a partially stored record stays usable.
func (s Settings) Normalize() Settings {
	if s.PollingActiveInterval <= 0 {
		s.PollingActiveInterval = DefaultActiveInterval
	}
	if s.DirectoryScanInterval <= 0 {
		s.DirectoryScanInterval = DefaultDirectoryScanInterval
	}
	if s.IgnoredFolders == nil {
		s.IgnoredFolders = append([]string(nil), DefaultIgnoredFolders...)
	}
	if len(s.Extensions) == 0 {
		s.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.MaxEntries <= 0 {
		s.MaxEntries = DefaultMaxEntries
	}
	if s.Theme == "" {
		s.Theme = "system"
	}
	return s
}
