package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReadArgs defines the input parameters for the mdspace_read tool.
type ReadArgs struct {
	Path string `json:"path,omitempty" jsonschema:"Root-prefixed path of the document to read (e.g. docs/notes/a.md)"`
	ID   string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	Disk bool   `json:"disk,omitempty" jsonschema:"If true read the disk text even when the document has unsaved edits"`
}

// ReadHandler holds the dependencies for the read tool.
type ReadHandler struct {
	Store     *store.Store
	Overlay   *overlay.Overlay
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Handle processes a mdspace_read request. The document becomes the active entry, and is
// checked against disk before its text is returned.
func (h *ReadHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReadArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		h.Logger.Info("mdspace_read entry not found", "path", args.Path, "id", args.ID)
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	if e.IsFolder() {
		return errorResult("Error: %s is a folder; use mdspace_files with tree=true", e.Path), nil, nil
	}

	h.Scheduler.SetActiveEntry(e.ID)
	outcome, err := h.Scheduler.SyncEntryNow(ctx, e.ID)
	if err != nil {
		h.Logger.Debug("mdspace_read check failed", "path", e.Path, "error", err)
	}

	if args.Disk {
		text, err := h.Overlay.DiskContent(ctx, e.ID)
		if err != nil {
			return errorResult("Error: %s", explain(err)), nil, nil
		}
		h.Logger.Info("mdspace_read", "path", e.Path, "disk", true, "elapsed", time.Since(start))
		return textResult(FormatFileContent(e, text)), nil, nil
	}

	content, err := h.Overlay.GetContent(ctx, e.ID)
	if err != nil {
		h.Logger.Warn("mdspace_read failed", "path", e.Path, "error", err)
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	if content.PermissionLost {
		return errorResult("Access to %s was withdrawn. Run mdspace_reconnect to grant it again.", e.Path), nil, nil
	}

	// Reload the entry so the header shows the state after the check
	if current, err := h.Store.Entry(e.ID); err == nil {
		e = current
	}

	h.Logger.Info("mdspace_read",
		"path", e.Path,
		"outcome", outcome,
		"fromDisk", content.FromDisk,
		"elapsed", time.Since(start),
	)

	output := FormatFileContent(e, content.Text)
	if outcome == reconcile.OutcomeConflict {
		output = "The file changed on disk while it has unsaved edits. Use mdspace_resolve to keep one side.\n\n" + output
	}
	return textResult(output), nil, nil
}
