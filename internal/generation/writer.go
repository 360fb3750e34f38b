package generation

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileWriter persists generated files and answers existence queries. The
// engine treats it as the single source of truth for on-disk project state.
type FileWriter interface {
	Write(projectID, relPath, content string) error
	FileCount(projectID string) int
	Exists(projectID string) bool
}

// DiskWriter writes projects under a root directory, one subdirectory per
// project id.
type DiskWriter struct {
	root string
}

// NewDiskWriter creates a writer rooted at dir.
func NewDiskWriter(dir string) *DiskWriter {
	return &DiskWriter{root: dir}
}

// Write persists one file, creating parent directories as needed. Paths that
// escape the project directory are rejected.
func (w *DiskWriter) Write(projectID, relPath, content string) error {
	base := filepath.Join(w.root, projectID)
	full := filepath.Join(base, filepath.FromSlash(relPath))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes project directory", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// FileCount counts substantive files: regular, non-hidden, non-empty.
// Hidden directories are not descended into.
func (w *DiskWriter) FileCount(projectID string) int {
	base := filepath.Join(w.root, projectID)
	count := 0
	filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != base && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			count++
		}
		return nil
	})
	return count
}

// Exists reports whether the project directory is present.
func (w *DiskWriter) Exists(projectID string) bool {
	info, err := os.Stat(filepath.Join(w.root, projectID))
	return err == nil && info.IsDir()
}
