package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FilesArgs defines the input parameters for the mdspace_files tool.
type FilesArgs struct {
	Pattern    string `json:"pattern,omitempty" jsonschema:"Glob pattern matched against root-prefixed paths (e.g. docs/**/*.md). Empty lists everything"`
	Status     string `json:"status,omitempty" jsonschema:"Only entries with this status: synced, modified, conflict or web-only"`
	Tree       bool   `json:"tree,omitempty" jsonschema:"If true render an indented folder tree instead of a list"`
	NameOnly   bool   `json:"nameOnly,omitempty" jsonschema:"If true return only paths without status"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"Maximum number of list results to return (default 200)"`
}

// FilesHandler holds the dependencies for the files tool.
type FilesHandler struct {
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_files request.
func (h *FilesHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args FilesArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	pattern := strings.ReplaceAll(args.Pattern, "\\", "/")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		h.Logger.Warn("mdspace_files called with invalid pattern", "pattern", args.Pattern)
		return errorResult("Error: invalid glob pattern: %s", args.Pattern), nil, nil
	}
	maxResults := args.MaxResults
	if maxResults <= 0 {
		maxResults = 200
	}

	all, err := h.Overlay.Entries()
	if err != nil {
		h.Logger.Error("mdspace_files failed", "error", err)
		return errorResult("Listing error: %v", err), nil, nil
	}

	var matched []*entry.Entry
	for _, e := range all {
		if args.Status != "" && string(e.Status) != args.Status {
			continue
		}
		if pattern != "" {
			ok, err := doublestar.Match(pattern, e.Path)
			if err != nil || !ok {
				continue
			}
		}
		matched = append(matched, e)
	}

	h.Logger.Info("mdspace_files",
		"pattern", args.Pattern,
		"status", args.Status,
		"results", len(matched),
		"elapsed", time.Since(start),
	)

	if args.Tree {
		return textResult(FormatTree(matched)), nil, nil
	}
	if len(matched) > maxResults {
		matched = matched[:maxResults]
	}
	return textResult(FormatEntryList(matched, args.NameOnly)), nil, nil
}
