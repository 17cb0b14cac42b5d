package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/turnguard/turnguard/internal/store"
)

// openStore resolves the --db flag shared by serve and mcp. Empty means the
// default path under ~/.turnguard; "memory" selects the in-memory store.
func openStore(path string) (store.Store, error) {
	if path == "memory" {
		return store.NewMemory(), nil
	}

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir := filepath.Join(home, ".turnguard")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create data directory: %w", err)
		}
		path = filepath.Join(dir, "turnguard.db")
	}

	st, err := store.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return st, nil
}
