package tools

import (
	"fmt"
	"strings"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/index"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// textResult wraps text in a successful tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult reports a tool-level failure to the client.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// FormatSearchResults formats content search results as human-readable text.
// Groups matches by document with line numbers and optional context.
func FormatSearchResults(results []index.ContentSearchResult, totalMatches int) string {
	if len(results) == 0 {
		return "No matches found."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d matches in %d documents:\n\n", totalMatches, len(results)))

	for i, result := range results {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("── %s [%s] ──\n", result.Path, result.Status))

		for _, match := range result.Matches {
			for _, ctxLine := range match.ContextBefore {
				builder.WriteString(fmt.Sprintf("  %s\n", ctxLine))
			}
			builder.WriteString(fmt.Sprintf("  %d: %s\n", match.LineNumber, match.LineText))
			for _, ctxLine := range match.ContextAfter {
				builder.WriteString(fmt.Sprintf("  %s\n", ctxLine))
			}
		}
	}

	return builder.String()
}

// FormatEntryList formats entries one per line with status and handle state.
func FormatEntryList(entries []*entry.Entry, nameOnly bool) string {
	if len(entries) == 0 {
		return "No entries matched."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d entries:\n\n", len(entries)))
	for _, e := range entries {
		if nameOnly {
			builder.WriteString(e.Path)
			builder.WriteString("\n")
			continue
		}
		builder.WriteString(fmt.Sprintf("  %s  (%s)\n", displayPath(e), describe(e)))
	}
	return builder.String()
}

// FormatTree renders entries as an indented folder tree.
func FormatTree(entries []*entry.Entry) string {
	if len(entries) == 0 {
		return "No entries."
	}

	var builder strings.Builder
	entry.Walk(entry.BuildTree(entries), func(node *entry.TreeNode, depth int) {
		e := node.Entry
		builder.WriteString(strings.Repeat("  ", depth))
		builder.WriteString(e.Name)
		if e.IsFolder() {
			builder.WriteString("/")
		} else if e.Status != entry.StatusSynced {
			builder.WriteString(fmt.Sprintf("  [%s]", e.Status))
		}
		builder.WriteString("\n")
	})
	return builder.String()
}

func displayPath(e *entry.Entry) string {
	if e.IsFolder() {
		return e.Path + "/"
	}
	return e.Path
}

// describe summarizes an entry's sync state.
func describe(e *entry.Entry) string {
	parts := []string{string(e.Status)}
	if e.IsDirty {
		parts = append(parts, "dirty")
	}
	if !e.IsWebOnly && e.HandleState() == entry.HandleDetached {
		parts = append(parts, "detached")
	}
	if e.RealPath != "" && e.RealPath != e.Path {
		parts = append(parts, "on disk as "+e.RealPath)
	}
	return strings.Join(parts, ", ")
}

// FormatFileContent formats a document's text with line numbers, similar to the built-in Read tool.
// Output format: header line with path, status and line count, followed by numbered lines.
func FormatFileContent(e *entry.Entry, content string) string {
	lines := strings.Split(content, "\n")
	lineCount := len(lines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("── %s (%s, %d lines) ──\n", e.Path, describe(e), lineCount))

	width := len(fmt.Sprintf("%d", lineCount))
	for i, line := range lines {
		builder.WriteString(fmt.Sprintf("%*d│ %s\n", width, i+1, line))
	}

	return builder.String()
}

// FormatReport summarizes a rescan.
func FormatReport(report *reconcile.Report) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("rescanned %s: %d scanned", report.Scope, report.Scanned))
	counts := []struct {
		label string
		n     int
	}{
		{"added", report.Added},
		{"refreshed", report.Refreshed},
		{"removed", report.Removed},
		{"restored", report.Restored},
		{"edits kept", report.DirtyKept},
		{"edited files kept as web-only", report.Orphaned},
		{"web-only kept", report.WebOnlyKept},
		{"path collisions", report.Collisions},
		{"rebound", report.Bound},
		{"unbound", report.Unbound},
		{"skipped", report.Skipped},
	}
	for _, c := range counts {
		if c.n > 0 {
			builder.WriteString(fmt.Sprintf(", %d %s", c.n, c.label))
		}
	}
	if report.Truncated {
		builder.WriteString(" (truncated by scan limits)")
	}
	return builder.String()
}

// formatFileSize converts bytes to a human-readable string.
func formatFileSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
