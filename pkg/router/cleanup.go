package router

import (
	"fmt"
	"os"
	"path/filepath"

	"agentflow/pkg/logx"
)

// ensureWritableDir creates the session scratch directory (including parents)
// and verifies it accepts writes by probing with a temp file. A directory
// that exists but rejects writes fails the session before any clients start.
func ensureWritableDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	probe, err := os.CreateTemp(path, ".writable-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// removeDirBestEffort deletes a scratch directory tree post-order, deepest
// entries first. Every failure is logged and skipped; teardown never fails a
// session over a file it cannot remove.
func removeDirBestEffort(path string, logger *logx.Logger) {
	if path == "" {
		return
	}

	var walk func(dir string)
	walk = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("Failed to read scratch directory %s: %v", dir, err)
		} else {
			for _, entry := range entries {
				child := filepath.Join(dir, entry.Name())
				if entry.IsDir() {
					walk(child)
					continue
				}
				if err := os.Remove(child); err != nil {
					logger.Warn("Failed to remove scratch file %s: %v", child, err)
				}
			}
		}
		if err := os.Remove(dir); err != nil {
			logger.Warn("Failed to remove scratch directory %s: %v", dir, err)
		}
	}
	walk(path)
}
