package server

import (
	"github.com/lexandro/mdspace-mcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handlers groups the tool handlers registered on the server.
type Handlers struct {
	Files     *tools.FilesHandler
	Read      *tools.ReadHandler
	Write     *tools.WriteHandler
	Create    *tools.CreateHandler
	Rename    *tools.RenameHandler
	Delete    *tools.DeleteHandler
	Save      *tools.SaveHandler
	Sync      *tools.SyncHandler
	Resolve   *tools.ResolveHandler
	Conflicts *tools.ConflictsHandler
	Refresh   *tools.RefreshHandler
	Open      *tools.OpenHandler
	Reconnect *tools.ReconnectHandler
	Search    *tools.SearchHandler
	Status    *tools.StatusHandler
	Settings  *tools.SettingsHandler
	Reindex   *tools.ReindexHandler
}

// Setup creates and configures the MCP server with all tool registrations.
func Setup(h Handlers) *mcp.Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "mdspace-mcp",
			Version: "0.1.0",
		},
		&mcp.ServerOptions{
			Instructions: `This server keeps a workspace of markdown documents in sync with folders on disk. Edits are held in an overlay until saved, so disk files only change on mdspace_save.

Working with documents:
- Use mdspace_files to list documents and folders, mdspace_read to read one
- Use mdspace_write to edit, then mdspace_save to write the edit to disk
- New documents from mdspace_create exist only in the workspace until saved
- Deleting never removes disk files; mdspace_refresh brings them back

Keeping in sync:
- Disk changes are picked up automatically; clean documents reload, edited ones go into conflict
- Use mdspace_conflicts to list conflicts and mdspace_resolve to keep one side
- If access to a folder is withdrawn, run mdspace_reconnect
- Use mdspace_search for full-text search, unsaved edits included`,
		},
	)

	// Browsing
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "mdspace_files",
		Description: `List workspace entries, optionally filtered by glob pattern or status.

Pattern examples:
  - "docs/**/*.md" - all markdown under the docs root
  - "*/notes/*" - direct children of any notes folder at the second level

Set tree=true for an indented folder tree.`,
	}, h.Files.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_read",
		Description: `Read a document. Unsaved edits are returned when present, otherwise the disk text. The document is checked against disk first and becomes the active document for background checks. Returns numbered lines.`,
	}, h.Read.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_search",
		Description: "Full-text search across workspace documents. Plain text for words, \"quoted\" for phrases, /regex/ for regular expressions. Filter with filePath, fileGlob, kind or status.",
	}, h.Search.Handle)

	// Editing
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_write",
		Description: "Replace a document's text in the workspace. Disk is not touched until mdspace_save.",
	}, h.Write.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_create",
		Description: "Create a document or folder in the workspace. It exists only in the workspace until saved.",
	}, h.Create.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_rename",
		Description: "Rename a document or folder in the workspace. Disk files keep their names.",
	}, h.Rename.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_delete",
		Description: "Remove an entry and its descendants from the workspace. Unsaved documents are deleted, disk-backed ones are hidden. Disk files are never deleted.",
	}, h.Delete.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_save",
		Description: "Write a document's workspace text to disk. Unsaved new documents are written to the given location inside an open root.",
	}, h.Save.Handle)

	// Sync
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_sync",
		Description: "Check a document against disk now, or with reload=true discard its edits and adopt the disk text. Without a document, checks the open folder.",
	}, h.Sync.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_conflicts",
		Description: "List documents that changed on disk while they had unsaved edits.",
	}, h.Conflicts.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_resolve",
		Description: "Resolve a conflict: keep-web keeps the edits, use-disk adopts the disk text.",
	}, h.Resolve.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_refresh",
		Description: "Rescan a root folder, or one folder inside it, and rebuild the entry set from disk. Edits and unsaved documents are kept; hidden disk entries come back.",
	}, h.Refresh.Handle)

	// Roots
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_open",
		Description: "Open a folder on disk as a workspace root. A previously opened folder is reattached with its edits.",
	}, h.Open.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_reconnect",
		Description: "Grant access to open roots again after it was withdrawn, and rescan them.",
	}, h.Reconnect.Handle)

	// Admin
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_status",
		Description: "Show workspace status: roots, document counts by status, access, background sync, search index and memory usage.",
	}, h.Status.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_settings",
		Description: "Show or change settings: theme, check intervals, ignored folders, extensions and scan limits. Omitted fields are unchanged.",
	}, h.Settings.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "mdspace_reindex",
		Description: "Rebuild the full-text search index from scratch. The entry set is not rescanned.",
	}, h.Reindex.Handle)

	return mcpServer
}
