package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDirectories are created once per run before the backend is spawned.
type RuntimeDirectories struct {
	ConfigDir string
	DBDir     string
	UploadDir string
}

// DirectoryCreateError reports a directory that could not be created.
type DirectoryCreateError struct {
	Path string
	Err  error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("paths: create directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error {
	return e.Err
}

// Prepare creates every directory. Existing directories are not an error.
func (d RuntimeDirectories) Prepare() error {
	for _, dir := range []string{d.ConfigDir, d.DBDir, d.UploadDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &DirectoryCreateError{Path: dir, Err: err}
		}
	}
	return nil
}

// DatabasePath is the file the backend keeps its database in.
func (d RuntimeDirectories) DatabasePath(file string) string {
	return filepath.Join(d.DBDir, file)
}
