package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexandro/mdspace-mcp/index"
	"github.com/lexandro/mdspace-mcp/register"
	"github.com/lexandro/mdspace-mcp/server"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/lexandro/mdspace-mcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
)

// stringList is a repeatable CLI flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ", ") }
func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// stateDirName holds the database and the log file inside the first root.
const stateDirName = ".mdspace"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "register" {
		name := register.DeriveServerName(os.Args[0])
		if err := register.Run(afero.NewOsFs(), name, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n%s", err, register.Usage(filepath.Base(os.Args[0])))
			os.Exit(1)
		}
		return
	}

	// Parse CLI flags
	var roots stringList
	var excludes stringList
	var dbPath string
	var logLevel string
	var logFile string
	var noWatch bool
	var syncInterval time.Duration

	flag.Var(&roots, "root", "Folder to open as a workspace root (repeatable, default: current working directory)")
	flag.Var(&excludes, "exclude", "Extra ignore pattern (repeatable)")
	flag.StringVar(&dbPath, "db", "", "Workspace database path (default: <first root>/.mdspace/state.db)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flag.StringVar(&logFile, "log-file", "", "Log file path (default: <first root>/.mdspace/mdspace.log)")
	flag.BoolVar(&noWatch, "no-watch", false, "Disable filesystem watchers and rely on timed scans")
	flag.DurationVar(&syncInterval, "index-sync-interval", 30*time.Second, "Search index verification interval")
	flag.Parse()

	// Resolve roots
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
		roots = append(roots, wd)
	}
	for i, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving -root %s: %v\n", r, err)
			os.Exit(1)
		}
		roots[i] = abs
	}

	stateDir := filepath.Join(roots[0], stateDirName)
	if dbPath == "" || logFile == "" {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", stateDir, err)
			os.Exit(1)
		}
	}
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "state.db")
	}
	if logFile == "" {
		logFile = filepath.Join(stateDir, "mdspace.log")
	}

	// Setup logger (always to file or stderr, never to stdout - stdout is for MCP stdio)
	logger := setupLogger(logLevel, logFile)

	logger.Info("starting mdspace-mcp",
		"roots", roots.String(),
		"db", dbPath,
		"watch", !noWatch,
	)

	startTime := time.Now()
	ctx := context.Background()

	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open workspace database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ws := newWorkspace(workspaceConfig{
		Fs:       afero.NewOsFs(),
		Store:    st,
		Patterns: excludes,
		Watch:    !noWatch,
		Logger:   logger,
	})
	defer ws.Close()

	for _, root := range roots {
		result, err := ws.Open(ctx, root)
		if err != nil {
			logger.Warn("failed to open root", "root", root, "error", err)
			continue
		}
		logger.Info("root ready", "root", result.Name, "reattached", result.Reattached)
	}

	// Build the search index from the merged view
	contentIndex, err := index.NewContentIndex()
	if err != nil {
		logger.Error("failed to create content index", "error", err)
		os.Exit(1)
	}
	defer contentIndex.Close()

	ix := &indexer{
		entries:      ws.overlay.Entries,
		diskText:     ws.diskText,
		contentIndex: contentIndex,
		logger:       logger,
	}
	indexedCount, totalSize, err := ix.reindexAll(ctx)
	if err != nil {
		logger.Warn("initial indexing failed", "error", err)
	}
	logger.Info("initial indexing complete",
		"documents", indexedCount,
		"totalSize", totalSize,
		"duration", time.Since(startTime),
	)

	ws.scheduler.Start(ctx)

	// Keep the index in step with overlay and disk changes
	trigger := ws.events.Subscribe()
	defer ws.events.Unsubscribe(trigger)
	stopSync := make(chan struct{})
	defer close(stopSync)
	go runPeriodicSync(ctx, syncInterval, ix, trigger, logger, stopSync)

	// Create tool handlers
	handlers := server.Handlers{
		Files:     &tools.FilesHandler{Overlay: ws.overlay, Logger: logger},
		Read:      &tools.ReadHandler{Store: st, Overlay: ws.overlay, Scheduler: ws.scheduler, Logger: logger},
		Write:     &tools.WriteHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Create:    &tools.CreateHandler{Overlay: ws.overlay, Logger: logger},
		Rename:    &tools.RenameHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Delete:    &tools.DeleteHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Save:      &tools.SaveHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Sync:      &tools.SyncHandler{Store: st, Overlay: ws.overlay, Scheduler: ws.scheduler, Logger: logger},
		Resolve:   &tools.ResolveHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Conflicts: &tools.ConflictsHandler{Store: st, Overlay: ws.overlay, Logger: logger},
		Refresh:   &tools.RefreshHandler{Store: st, Engine: ws.engine, Scheduler: ws.scheduler, Logger: logger},
		Open:      &tools.OpenHandler{DoOpen: ws.Open, Logger: logger},
		Reconnect: &tools.ReconnectHandler{Store: st, DoReconnect: ws.Reconnect, Logger: logger},
		Search:    &tools.SearchHandler{ContentIndex: contentIndex, Logger: logger},
		Status: &tools.StatusHandler{
			Store:        st,
			Capabilities: ws.caps,
			Engine:       ws.engine,
			Scheduler:    ws.scheduler,
			ContentIndex: contentIndex,
			StartTime:    startTime,
			Logger:       logger,
		},
		Settings: &tools.SettingsHandler{Store: st, Scheduler: ws.scheduler, Logger: logger},
		Reindex: &tools.ReindexHandler{
			Logger: logger,
			DoReindex: func(ctx context.Context) (int, int64, string, error) {
				start := time.Now()
				count, size, err := ix.reindexAll(ctx)
				if err != nil {
					return 0, 0, "", err
				}
				elapsed := time.Since(start).Round(time.Millisecond).String()
				return count, size, elapsed, nil
			},
		},
	}

	// Setup and run MCP server on stdio
	mcpServer := server.Setup(handlers)

	logger.Info("MCP server starting on stdio")
	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

// setupLogger creates an slog.Logger writing to stderr or a file.
func setupLogger(level string, logFile string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writer *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v, falling back to stderr\n", logFile, err)
			writer = os.Stderr
		} else {
			writer = f
		}
	} else {
		writer = os.Stderr
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
