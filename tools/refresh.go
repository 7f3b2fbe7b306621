package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RefreshArgs defines the input parameters for the mdspace_refresh tool.
type RefreshArgs struct {
	Root   string `json:"root,omitempty" jsonschema:"Name of the root folder to rescan. Empty rescans the current folder"`
	Folder string `json:"folder,omitempty" jsonschema:"Root-prefixed folder to rescan on its own (e.g. docs/notes)"`
}

// RefreshHandler holds the dependencies for the refresh tool.
type RefreshHandler struct {
	Store     *store.Store
	Engine    *reconcile.Engine
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Handle processes a mdspace_refresh request.
func (h *RefreshHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args RefreshArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	var report *reconcile.Report
	var err error
	switch {
	case args.Folder != "":
		folder := entry.NormalizePath(args.Folder)
		var project *entry.Project
		project, err = h.Store.ProjectByName(entry.RootName(folder))
		if err == nil {
			report, err = h.Engine.RescanFolder(ctx, project.ID, folder)
		}
	case args.Root != "":
		var project *entry.Project
		project, err = h.Store.ProjectByName(args.Root)
		if err == nil {
			report, err = h.Engine.Rescan(ctx, project.ID)
		}
	default:
		report, err = h.Scheduler.RefreshNow(ctx)
	}
	if err != nil {
		h.Logger.Warn("mdspace_refresh failed", "root", args.Root, "folder", args.Folder, "error", err)
		return errorResult("Refresh failed: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_refresh",
		"scope", report.Scope,
		"scanned", report.Scanned,
		"added", report.Added,
		"removed", report.Removed,
		"elapsed", time.Since(start),
	)
	return textResult(FormatReport(report)), nil, nil
}

// OpenResult describes an opened root folder.
type OpenResult struct {
	ProjectID  string
	Name       string
	Location   string
	Reattached bool
	Report     *reconcile.Report
	Detection  *reconcile.Detection
}

// OpenFunc opens a root folder on disk. It is provided by main.go, which owns the
// filesystem and the watchers.
type OpenFunc func(ctx context.Context, dir string) (*OpenResult, error)

// ReconnectFunc asks for access to a project root again and rescans it.
type ReconnectFunc func(ctx context.Context, projectID string) (*reconcile.Report, error)

// OpenArgs defines the input parameters for the mdspace_open tool.
type OpenArgs struct {
	Dir string `json:"dir" jsonschema:"Absolute path of the folder to open as a root"`
}

// OpenHandler holds the dependencies for the open tool.
type OpenHandler struct {
	DoOpen OpenFunc
	Logger *slog.Logger
}

// Handle processes a mdspace_open request.
func (h *OpenHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args OpenArgs) (*mcp.CallToolResult, any, error) {
	if args.Dir == "" {
		h.Logger.Warn("mdspace_open called with empty dir")
		return errorResult("Error: dir parameter is required"), nil, nil
	}

	result, err := h.DoOpen(ctx, args.Dir)
	if err != nil {
		h.Logger.Error("mdspace_open failed", "dir", args.Dir, "error", err)
		return errorResult("Open failed: %s", explain(err)), nil, nil
	}

	h.Logger.Info("mdspace_open", "dir", args.Dir, "project", result.ProjectID, "reattached", result.Reattached)
	return textResult(FormatOpenResult(result)), nil, nil
}

// FormatOpenResult summarizes an opened root.
func FormatOpenResult(result *OpenResult) string {
	var builder strings.Builder
	verb := "opened"
	if result.Reattached {
		verb = "reopened"
	}
	builder.WriteString(fmt.Sprintf("%s %s (%s)\n", verb, result.Name, result.Location))
	if result.Report != nil {
		builder.WriteString(FormatReport(result.Report))
		builder.WriteString("\n")
	}
	if d := result.Detection; d != nil {
		if len(d.Added) > 0 {
			builder.WriteString(fmt.Sprintf("new on disk: %s\n", strings.Join(d.Added, ", ")))
		}
		if len(d.Missing) > 0 {
			builder.WriteString(fmt.Sprintf("missing on disk (run mdspace_refresh to drop them): %s\n", strings.Join(d.Missing, ", ")))
		}
		if d.PermissionLost {
			builder.WriteString("access to the folder is missing, run mdspace_reconnect\n")
		}
	}
	return builder.String()
}

// ReconnectArgs defines the input parameters for the mdspace_reconnect tool.
type ReconnectArgs struct {
	Root string `json:"root,omitempty" jsonschema:"Name of the root folder to reconnect. Empty reconnects every open root"`
}

// ReconnectHandler holds the dependencies for the reconnect tool.
type ReconnectHandler struct {
	Store       *store.Store
	DoReconnect ReconnectFunc
	Logger      *slog.Logger
}

// Handle processes a mdspace_reconnect request.
func (h *ReconnectHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReconnectArgs) (*mcp.CallToolResult, any, error) {
	var projects []*entry.Project
	if args.Root != "" {
		project, err := h.Store.ProjectByName(args.Root)
		if err != nil {
			return errorResult("Error: root %s: %s", args.Root, explain(err)), nil, nil
		}
		projects = append(projects, project)
	} else {
		all, err := h.Store.Projects()
		if err != nil {
			return errorResult("Error: %v", err), nil, nil
		}
		for _, p := range all {
			if p.Dir != nil {
				projects = append(projects, p)
			}
		}
	}
	if len(projects) == 0 {
		return errorResult("No open roots to reconnect. Open one with mdspace_open."), nil, nil
	}

	var builder strings.Builder
	failed := 0
	for _, p := range projects {
		report, err := h.DoReconnect(ctx, p.ID)
		if err != nil {
			failed++
			h.Logger.Warn("mdspace_reconnect failed", "root", p.Name, "error", err)
			builder.WriteString(fmt.Sprintf("%s: %s\n", p.Name, explain(err)))
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", p.Name, FormatReport(report)))
	}

	h.Logger.Info("mdspace_reconnect", "roots", len(projects), "failed", failed)
	result := textResult(builder.String())
	result.IsError = failed == len(projects)
	return result, nil, nil
}
