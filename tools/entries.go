package tools

import (
	"errors"
	"fmt"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/store"
)

// lookup finds an entry by ID, or by root-prefixed path when id is empty.
func lookup(st *store.Store, id, path string) (*entry.Entry, error) {
	switch {
	case id != "":
		return st.Entry(id)
	case path != "":
		return st.EntryByPath(entry.NormalizePath(path))
	}
	return nil, errors.New("either id or path is required")
}

// explain turns engine and overlay errors into a message with a next step for the user.
func explain(err error) string {
	switch {
	case errors.Is(err, capability.ErrPermissionLost):
		return fmt.Sprintf("%v. Access to the folder was withdrawn; run mdspace_reconnect to grant it again.", err)
	case errors.Is(err, reconcile.ErrNeedReopen):
		return fmt.Sprintf("%v. Open the root folder again with mdspace_open.", err)
	case errors.Is(err, overlay.ErrDetached):
		return fmt.Sprintf("%v.", err)
	case errors.Is(err, overlay.ErrSaveCancelled):
		return fmt.Sprintf("%v. Pass a location inside an open root (e.g. docs/new.md).", err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("%v. Use mdspace_files to list entries.", err)
	}
	return err.Error()
}
