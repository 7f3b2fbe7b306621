package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SettingsArgs defines the input parameters for the mdspace_settings tool. Omitted fields are
// left unchanged; with no fields the current settings are returned.
type SettingsArgs struct {
	Theme                 *string  `json:"theme,omitempty" jsonschema:"UI theme: light, dark or system"`
	ActiveIntervalSeconds *int     `json:"activeIntervalSeconds,omitempty" jsonschema:"Seconds between disk checks of the active document"`
	ScanIntervalSeconds   *int     `json:"scanIntervalSeconds,omitempty" jsonschema:"Seconds between change detection scans of the open folder"`
	IgnoredFolders        []string `json:"ignoredFolders,omitempty" jsonschema:"Folder names skipped by scans (replaces the current list)"`
	Extensions            []string `json:"extensions,omitempty" jsonschema:"Document extensions without dot picked up by scans (replaces the current list)"`
	MaxDepth              *int     `json:"maxDepth,omitempty" jsonschema:"Maximum folder depth visited by scans"`
	MaxEntries            *int     `json:"maxEntries,omitempty" jsonschema:"Maximum number of entries collected by one scan"`
}

// SettingsHandler holds the dependencies for the settings tool.
type SettingsHandler struct {
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Handle processes a mdspace_settings request.
func (h *SettingsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SettingsArgs) (*mcp.CallToolResult, any, error) {
	settings, err := h.Store.Settings()
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}

	changed, err := apply(&settings, args)
	if err != nil {
		return errorResult("Error: %v", err), nil, nil
	}
	if changed {
		if err := h.Store.PutSettings(settings); err != nil {
			h.Logger.Error("mdspace_settings failed", "error", err)
			return errorResult("Error: %v", err), nil, nil
		}
		h.Scheduler.SettingsChanged()
		h.Logger.Info("mdspace_settings updated",
			"activeInterval", settings.PollingActiveInterval,
			"scanInterval", settings.DirectoryScanInterval,
		)
	}

	return textResult(FormatSettings(settings)), nil, nil
}

func apply(settings *entry.Settings, args SettingsArgs) (bool, error) {
	changed := false
	if args.Theme != nil {
		switch *args.Theme {
		case "light", "dark", "system":
		default:
			return false, fmt.Errorf("unknown theme %q (want light, dark or system)", *args.Theme)
		}
		settings.Theme = *args.Theme
		changed = true
	}
	seconds := map[string]struct {
		value  *int
		target *time.Duration
	}{
		"activeIntervalSeconds": {args.ActiveIntervalSeconds, &settings.PollingActiveInterval},
		"scanIntervalSeconds":   {args.ScanIntervalSeconds, &settings.DirectoryScanInterval},
	}
	for name, s := range seconds {
		if s.value == nil {
			continue
		}
		if *s.value <= 0 {
			return false, fmt.Errorf("%s must be positive", name)
		}
		*s.target = time.Duration(*s.value) * time.Second
		changed = true
	}
	if args.IgnoredFolders != nil {
		settings.IgnoredFolders = args.IgnoredFolders
		changed = true
	}
	if args.Extensions != nil {
		exts := make([]string, 0, len(args.Extensions))
		for _, ext := range args.Extensions {
			if ext = strings.ToLower(strings.TrimPrefix(ext, ".")); ext != "" {
				exts = append(exts, ext)
			}
		}
		settings.Extensions = exts
		changed = true
	}
	if args.MaxDepth != nil {
		settings.MaxDepth = *args.MaxDepth
		changed = true
	}
	if args.MaxEntries != nil {
		settings.MaxEntries = *args.MaxEntries
		changed = true
	}
	if changed {
		*settings = settings.Normalize()
	}
	return changed, nil
}

// FormatSettings renders the settings record.
func FormatSettings(s entry.Settings) string {
	var builder strings.Builder
	builder.WriteString("=== mdspace-mcp Settings ===\n\n")
	builder.WriteString(fmt.Sprintf("Theme: %s\n", s.Theme))
	builder.WriteString(fmt.Sprintf("Active document check: every %s\n", s.PollingActiveInterval))
	builder.WriteString(fmt.Sprintf("Folder change scan: every %s\n", s.DirectoryScanInterval))
	builder.WriteString(fmt.Sprintf("Ignored folders: %s\n", strings.Join(s.IgnoredFolders, ", ")))
	builder.WriteString(fmt.Sprintf("Extensions: %s\n", strings.Join(s.Extensions, ", ")))
	builder.WriteString(fmt.Sprintf("Scan limits: depth %d, %d entries\n", s.MaxDepth, s.MaxEntries))
	return builder.String()
}
