package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReindexArgs defines the input parameters for the mdspace_reindex tool.
type ReindexArgs struct{}

// ReindexFunc is the function signature for the reindex operation.
// It is provided by main.go to avoid circular dependencies.
type ReindexFunc func(ctx context.Context) (indexedCount int, totalSize int64, elapsed string, err error)

// ReindexHandler holds the dependencies for the reindex tool.
type ReindexHandler struct {
	DoReindex ReindexFunc
	Logger    *slog.Logger
}

// Handle processes a mdspace_reindex request. Only the search index is rebuilt; the entry
// set is left to mdspace_refresh.
func (h *ReindexHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReindexArgs) (*mcp.CallToolResult, any, error) {
	h.Logger.Info("mdspace_reindex started")

	indexedCount, totalSize, elapsed, err := h.DoReindex(ctx)
	if err != nil {
		h.Logger.Error("mdspace_reindex failed", "error", err)
		return errorResult("Reindex error: %v", err), nil, nil
	}

	h.Logger.Info("mdspace_reindex complete",
		"documents", indexedCount,
		"totalSize", totalSize,
		"elapsed", elapsed,
	)

	return textResult(fmt.Sprintf("reindexed: %d documents (%s) in %s",
		indexedCount, formatFileSize(totalSize), elapsed)), nil, nil
}
