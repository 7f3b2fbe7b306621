package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/index"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgs defines the input parameters for the mdspace_status tool (none required).
type StatusArgs struct{}

// StatusHandler holds the dependencies for the status tool.
type StatusHandler struct {
	Store        *store.Store
	Capabilities *capability.Store
	Engine       *reconcile.Engine
	Scheduler    *scheduler.Scheduler
	ContentIndex *index.ContentIndex
	StartTime    time.Time
	Logger       *slog.Logger
}

// Handle processes a mdspace_status request.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgs) (*mcp.CallToolResult, any, error) {
	var builder strings.Builder

	projects, err := h.Store.Projects()
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}
	all, err := h.Store.Entries()
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}
	statusCounts := make(map[entry.Status]int)
	files, folders, hidden, dirty := 0, 0, 0, 0
	for _, e := range all {
		switch {
		case e.IsHidden:
			hidden++
			continue
		case e.IsFolder():
			folders++
			continue
		}
		files++
		statusCounts[e.Status]++
		if e.IsDirty {
			dirty++
		}
	}

	state := h.Scheduler.State()
	uptime := time.Since(h.StartTime)

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	h.Logger.Info("mdspace_status",
		"projects", len(projects),
		"files", files,
		"dirty", dirty,
		"memory", memStats.Alloc,
		"uptime", uptime,
	)

	builder.WriteString("=== mdspace-mcp Status ===\n\n")
	builder.WriteString(fmt.Sprintf("Database: %s\n", h.Store.Path()))
	builder.WriteString(fmt.Sprintf("Uptime: %s\n", formatDuration(uptime)))
	if h.Capabilities.PermissionLost() {
		builder.WriteString("Access: withdrawn for some files, run mdspace_reconnect\n")
	} else {
		builder.WriteString("Access: granted\n")
	}
	if h.Engine.Syncing() {
		builder.WriteString("Sync: in progress\n")
	}

	builder.WriteString("\nRoots:\n")
	if len(projects) == 0 {
		builder.WriteString("  none, open one with mdspace_open\n")
	}
	for _, p := range projects {
		attached := "attached"
		if p.Dir == nil {
			attached = "detached"
		}
		current := ""
		if p.ID == state.ProjectID {
			current = " (current)"
		}
		owned, err := h.Store.EntriesByProject(p.ID)
		if err != nil {
			h.Logger.Warn("failed to count root entries", "root", p.Name, "error", err)
		}
		builder.WriteString(fmt.Sprintf("  %-20s %s, %s, %d entries, last opened %s%s\n",
			p.Name, p.Location, attached, len(owned), p.LastOpenedAt.Format(time.RFC3339), current))
	}

	builder.WriteString(fmt.Sprintf("\nDocuments: %d (%d folders, %d hidden, %d with unsaved edits)\n", files, folders, hidden, dirty))
	statuses := make([]string, 0, len(statusCounts))
	for status := range statusCounts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		builder.WriteString(fmt.Sprintf("  %-20s %d\n", status, statusCounts[entry.Status(status)]))
	}

	builder.WriteString("\nBackground sync:\n")
	if state.Running {
		builder.WriteString(fmt.Sprintf("  active document every %s, folder scan every %s\n", state.ActiveInterval, state.ScanInterval))
	} else {
		builder.WriteString("  stopped\n")
	}
	if state.ActiveEntryID != "" {
		if e, err := h.Store.Entry(state.ActiveEntryID); err == nil {
			builder.WriteString(fmt.Sprintf("  active document: %s\n", e.Path))
		}
	}
	if !state.LastCheck.IsZero() {
		builder.WriteString(fmt.Sprintf("  last check: %s ago\n", formatDuration(time.Since(state.LastCheck))))
	}
	if !state.LastScan.IsZero() {
		builder.WriteString(fmt.Sprintf("  last scan: %s ago\n", formatDuration(time.Since(state.LastScan))))
	}

	builder.WriteString(fmt.Sprintf("\nSearch index: %d documents, %s\n",
		h.ContentIndex.DocumentCount(), formatFileSize(h.ContentIndex.TotalBytes())))
	builder.WriteString(fmt.Sprintf("Memory usage: %s (heap: %s)\n",
		formatFileSize(int64(memStats.Alloc)),
		formatFileSize(int64(memStats.HeapAlloc)),
	))

	// Kind breakdown
	kindCounts := h.ContentIndex.KindCounts()
	if len(kindCounts) > 0 {
		builder.WriteString("\nKinds:\n")

		// Sort by count descending
		type kindEntry struct {
			kind  string
			count int
		}
		kinds := make([]kindEntry, 0, len(kindCounts))
		for kind, count := range kindCounts {
			kinds = append(kinds, kindEntry{string(kind), count})
		}
		sort.Slice(kinds, func(i, j int) bool {
			if kinds[i].count != kinds[j].count {
				return kinds[i].count > kinds[j].count
			}
			return kinds[i].kind < kinds[j].kind
		})

		for _, k := range kinds {
			builder.WriteString(fmt.Sprintf("  %-20s %d documents\n", k.kind, k.count))
		}
	}

	return textResult(builder.String()), nil, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	totalMinutes := totalSeconds / 60
	remainderSeconds := totalSeconds % 60
	if totalMinutes < 60 {
		return fmt.Sprintf("%dm%ds", totalMinutes, remainderSeconds)
	}
	hours := totalMinutes / 60
	remainderMinutes := totalMinutes % 60
	return fmt.Sprintf("%dh%dm", hours, remainderMinutes)
}
