package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir ensures the .accord data directory exists at the given
// base path. Empty or "." means the current directory.
//
// Facilities storing local state use it:
//   - negotiation archive: ./.accord/archive.db
//   - CLI event transcripts: ./.accord/events/
//
// Returns the full path to the .accord directory.
func EnsureDataDir(basePath string) (string, error) {
	var dataDir string
	if basePath == "" || basePath == "." {
		dataDir = ".accord"
	} else {
		dataDir = filepath.Join(basePath, ".accord")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory at '%s': %w", dataDir, err)
	}

	return dataDir, nil
}
