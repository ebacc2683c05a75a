package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// OpenScratchBadger creates a fresh badger database under baseDir for one run and
// returns it with its directory. An empty baseDir uses the system temp directory.
func OpenScratchBadger(baseDir, runID string) (*badger.DB, string, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create scratch base dir: %w", err)
	}

	dir, err := os.MkdirTemp(baseDir, "txengine-"+runID+"-")
	if err != nil {
		return nil, "", fmt.Errorf("create scratch dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Clean(dir)).
		WithLogger(nil).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("open badger scratch store: %w", err)
	}
	return db, dir, nil
}
