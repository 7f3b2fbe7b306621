package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/doctype"
	"github.com/lexandro/mdspace-mcp/index"
)

func newTestStatusHandler(s *stack) *StatusHandler {
	return &StatusHandler{
		Store:        s.store,
		Capabilities: s.caps,
		Engine:       s.engine,
		Scheduler:    s.scheduler,
		ContentIndex: s.index,
		StartTime:    time.Now().Add(-90 * time.Second),
		Logger:       s.logger,
	}
}

func Test_StatusHandler_Summary(t *testing.T) {
	s := newStack(t)
	h := newTestStatusHandler(s)
	s.overlay.UpdateContent(s.entry("docs/a.md").ID, "edited")
	s.index.IndexDocument(index.Document{Path: "docs/a.md", Kind: doctype.Markdown, Text: "edited"})

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{})
	text := resultText(t, result, err)

	for _, want := range []string{
		"=== mdspace-mcp Status ===",
		"Uptime: 1m30s",
		"Access: granted",
		"docs", "/work/docs", "attached", "4 entries", "(current)",
		"Documents: 2 (2 folders, 0 hidden, 1 with unsaved edits)",
		"modified", "synced",
		"Search index: 1 documents",
		"Markdown",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in status, got:\n%s", want, text)
		}
	}
}

func Test_StatusHandler_PermissionLost(t *testing.T) {
	s := newStack(t)
	h := newTestStatusHandler(s)
	s.docs.Revoke(capability.PermissionPrompt)
	s.overlay.GetContent(context.Background(), s.entry("docs/a.md").ID)

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{})
	if text := resultText(t, result, err); !strings.Contains(text, "mdspace_reconnect") {
		t.Errorf("expected a reconnect hint, got:\n%s", text)
	}
}
