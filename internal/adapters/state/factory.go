package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// Supported backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStateManager creates a StateManager for the backend. For json the path
// is a directory holding one file per run; for sqlite it is the database
// file, and a missing .db extension is added.
func NewStateManager(backend, path string) (core.StateManager, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendJSON:
		if ext := filepath.Ext(path); ext != "" {
			path = strings.TrimSuffix(path, ext)
		}
		return NewJSONStateManager(path)
	case BackendSQLite:
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStateManager(path)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", backend)
	}
}

// CloseStateManager closes sm, tolerating nil.
func CloseStateManager(sm core.StateManager) error {
	if sm == nil {
		return nil
	}
	return sm.Close()
}
