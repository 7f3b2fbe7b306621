package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SaveArgs defines the input parameters for the mdspace_save tool.
type SaveArgs struct {
	Path     string `json:"path,omitempty" jsonschema:"Root-prefixed path of the document to save"`
	ID       string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	Location string `json:"location,omitempty" jsonschema:"Disk location for a web-only document, root-prefixed (e.g. docs/new.md). Defaults to the document path"`
}

// SaveHandler holds the dependencies for the save tool.
type SaveHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_save request.
func (h *SaveHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SaveArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	saved, err := h.Overlay.SaveToDisk(ctx, e.ID, args.Location)
	if err != nil {
		h.Logger.Warn("mdspace_save failed", "path", e.Path, "location", args.Location, "error", err)
		return errorResult("Save failed: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_save", "path", saved.Path, "realPath", saved.RealPath, "elapsed", time.Since(start))
	return textResult(fmt.Sprintf("saved %s to disk as %s", saved.Path, saved.RealPath)), nil, nil
}

// SyncArgs defines the input parameters for the mdspace_sync tool.
type SyncArgs struct {
	Path   string `json:"path,omitempty" jsonschema:"Root-prefixed path of the document to sync. Empty checks the whole open folder"`
	ID     string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	Reload bool   `json:"reload,omitempty" jsonschema:"If true discard unsaved edits and adopt the disk text"`
}

// SyncHandler holds the dependencies for the sync tool.
type SyncHandler struct {
	Store     *store.Store
	Overlay   *overlay.Overlay
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Handle processes a mdspace_sync request.
func (h *SyncHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SyncArgs) (*mcp.CallToolResult, any, error) {
	if args.ID == "" && args.Path == "" {
		h.Scheduler.NotifyFocus()
		h.Logger.Info("mdspace_sync", "scope", "project")
		return textResult("checking the open folder and the active document for disk changes"), nil, nil
	}

	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}

	if args.Reload {
		synced, err := h.Overlay.SyncFromDisk(ctx, e.ID)
		if err != nil {
			h.Logger.Warn("mdspace_sync reload failed", "path", e.Path, "error", err)
			return errorResult("Reload failed: %s", explain(err)), nil, nil
		}
		h.Logger.Info("mdspace_sync", "path", synced.Path, "reload", true)
		return textResult(fmt.Sprintf("reloaded %s from disk, unsaved edits discarded", synced.Path)), nil, nil
	}

	outcome, err := h.Scheduler.SyncEntryNow(ctx, e.ID)
	if err != nil {
		h.Logger.Warn("mdspace_sync failed", "path", e.Path, "error", err)
		return errorResult("Sync failed: %s", explain(err)), nil, nil
	}
	h.Logger.Info("mdspace_sync", "path", e.Path, "outcome", outcome)

	switch outcome {
	case reconcile.OutcomeConflict:
		return textResult(fmt.Sprintf("%s changed on disk and has unsaved edits: conflict. Use mdspace_resolve.", e.Path)), nil, nil
	case reconcile.OutcomePermissionLost:
		return errorResult("Access to %s was withdrawn. Run mdspace_reconnect to grant it again.", e.Path), nil, nil
	}
	return textResult(fmt.Sprintf("%s: %s", e.Path, outcome)), nil, nil
}

// ResolveArgs defines the input parameters for the mdspace_resolve tool.
type ResolveArgs struct {
	Path   string `json:"path,omitempty" jsonschema:"Root-prefixed path of the conflicted document"`
	ID     string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	Choice string `json:"choice" jsonschema:"keep-web keeps the unsaved edits, use-disk adopts the disk text"`
}

// ResolveHandler holds the dependencies for the resolve tool.
type ResolveHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_resolve request.
func (h *ResolveHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ResolveArgs) (*mcp.CallToolResult, any, error) {
	choice, err := reconcile.ParseChoice(args.Choice)
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}
	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	resolved, err := h.Overlay.ResolveConflict(ctx, e.ID, choice)
	if err != nil {
		h.Logger.Warn("mdspace_resolve failed", "path", e.Path, "choice", choice, "error", err)
		return errorResult("Resolve failed: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_resolve", "path", resolved.Path, "choice", choice, "status", resolved.Status)
	return textResult(fmt.Sprintf("resolved %s with %s, now %s", resolved.Path, choice, describe(resolved))), nil, nil
}

// ConflictsArgs defines the input parameters for the mdspace_conflicts tool.
type ConflictsArgs struct {
	ShowDisk bool `json:"showDisk,omitempty" jsonschema:"If true include the disk text of each conflicted document"`
}

// ConflictsHandler holds the dependencies for the conflicts tool.
type ConflictsHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_conflicts request.
func (h *ConflictsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ConflictsArgs) (*mcp.CallToolResult, any, error) {
	conflicted, err := h.Store.EntriesByStatus(entry.StatusConflict)
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}
	conflicted = entry.Visible(conflicted)
	h.Logger.Info("mdspace_conflicts", "count", len(conflicted))

	if len(conflicted) == 0 {
		return textResult("No conflicts."), nil, nil
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%d documents in conflict:\n", len(conflicted)))
	for _, e := range conflicted {
		builder.WriteString(fmt.Sprintf("\n  %s  (id %s, disk modified %s)\n", e.Path, e.ID, e.DiskLastModified.Format(time.RFC3339)))
		if !args.ShowDisk {
			continue
		}
		text, err := h.Overlay.DiskContent(ctx, e.ID)
		if err != nil {
			builder.WriteString(fmt.Sprintf("    disk text unavailable: %s\n", explain(err)))
			continue
		}
		builder.WriteString(FormatFileContent(e, text))
	}
	return textResult(builder.String()), nil, nil
}
