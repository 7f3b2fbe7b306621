package ignore

import "github.com/lexandro/mdspace-mcp/entry"

// DefaultIgnoredFolders are skipped when no folder list is configured.
var DefaultIgnoredFolders = entry.DefaultIgnoredFolders

// DefaultIgnorePatterns are base-name patterns that never belong in a document workspace,
// whatever the extension filter says. Patterns are lower case.
var DefaultIgnorePatterns = []string{
	// Editor leftovers
	"*.swp",
	"*.swo",
	"*~",
	".#*",

	// OS files
	".ds_store",
	"thumbs.db",
	"desktop.ini",

	// Atomic write temp files
	".mdspace-*.tmp",
}
