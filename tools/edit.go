package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// WriteArgs defines the input parameters for the mdspace_write tool.
type WriteArgs struct {
	Path    string `json:"path,omitempty" jsonschema:"Root-prefixed path of the document to edit"`
	ID      string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	Content string `json:"content" jsonschema:"Full new text of the document. The edit stays in the overlay until mdspace_save"`
}

// WriteHandler holds the dependencies for the write tool.
type WriteHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_write request.
func (h *WriteHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args WriteArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	updated, err := h.Overlay.UpdateContent(e.ID, args.Content)
	if err != nil {
		h.Logger.Warn("mdspace_write failed", "path", e.Path, "error", err)
		return errorResult("Error: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_write", "path", updated.Path, "bytes", len(args.Content), "elapsed", time.Since(start))
	return textResult(fmt.Sprintf("updated %s (%s)", updated.Path, describe(updated))), nil, nil
}

// CreateArgs defines the input parameters for the mdspace_create tool.
type CreateArgs struct {
	Parent string `json:"parent,omitempty" jsonschema:"Root-prefixed path of the parent folder (e.g. docs/notes). Empty creates a top-level entry"`
	Name   string `json:"name" jsonschema:"Name of the new document or folder (e.g. ideas.md)"`
	Folder bool   `json:"folder,omitempty" jsonschema:"If true create a folder instead of a document"`
}

// CreateHandler holds the dependencies for the create tool.
type CreateHandler struct {
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_create request. New entries exist only in the overlay.
func (h *CreateHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args CreateArgs) (*mcp.CallToolResult, any, error) {
	if args.Name == "" {
		h.Logger.Warn("mdspace_create called with empty name")
		return errorResult("Error: name parameter is required"), nil, nil
	}

	create := h.Overlay.Create
	if args.Folder {
		create = h.Overlay.CreateFolder
	}
	created, err := create(args.Parent, args.Name)
	if err != nil {
		h.Logger.Warn("mdspace_create failed", "parent", args.Parent, "name", args.Name, "error", err)
		return errorResult("Error: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_create", "path", created.Path, "folder", args.Folder)
	return textResult(fmt.Sprintf("created %s (id %s, web-only until saved)", displayPath(created), created.ID)), nil, nil
}

// RenameArgs defines the input parameters for the mdspace_rename tool.
type RenameArgs struct {
	Path    string `json:"path,omitempty" jsonschema:"Root-prefixed path of the entry to rename"`
	ID      string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
	NewName string `json:"newName" jsonschema:"New name within the same folder"`
}

// RenameHandler holds the dependencies for the rename tool.
type RenameHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_rename request. The disk file keeps its name.
func (h *RenameHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args RenameArgs) (*mcp.CallToolResult, any, error) {
	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	renamed, err := h.Overlay.Rename(e.ID, args.NewName)
	if err != nil {
		h.Logger.Warn("mdspace_rename failed", "path", e.Path, "newName", args.NewName, "error", err)
		return errorResult("Error: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_rename", "from", e.Path, "to", renamed.Path)
	return textResult(fmt.Sprintf("renamed %s to %s", e.Path, renamed.Path)), nil, nil
}

// DeleteArgs defines the input parameters for the mdspace_delete tool.
type DeleteArgs struct {
	Path string `json:"path,omitempty" jsonschema:"Root-prefixed path of the entry to remove"`
	ID   string `json:"id,omitempty" jsonschema:"Entry ID (takes precedence over path)"`
}

// DeleteHandler holds the dependencies for the delete tool.
type DeleteHandler struct {
	Store   *store.Store
	Overlay *overlay.Overlay
	Logger  *slog.Logger
}

// Handle processes a mdspace_delete request. Disk files are hidden, never deleted.
func (h *DeleteHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args DeleteArgs) (*mcp.CallToolResult, any, error) {
	e, err := lookup(h.Store, args.ID, args.Path)
	if err != nil {
		return errorResult("Error: %s", explain(err)), nil, nil
	}
	removal, err := h.Overlay.HideOrDelete(e.ID)
	if err != nil {
		h.Logger.Warn("mdspace_delete failed", "path", e.Path, "error", err)
		return errorResult("Error: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_delete", "path", e.Path, "deleted", removal.Deleted, "hidden", removal.Hidden)
	return textResult(fmt.Sprintf("removed %s: %d deleted, %d hidden (disk files are untouched, mdspace_refresh restores them)",
		e.Path, removal.Deleted, removal.Hidden)), nil, nil
}
