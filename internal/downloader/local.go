package downloader

import (
	"context"
	"fmt"
	"os"
)

// LocalFile wraps an already-local file (an upload that was spooled to disk,
// or an operator-supplied path) as a Downloader.
type LocalFile struct {
	path  string
	hooks Hooks
}

// NewLocalFile creates a downloader for a file that already exists locally
func NewLocalFile(path string, hooks Hooks) *LocalFile {
	return &LocalFile{path: path, hooks: hooks}
}

// Fetch verifies the file exists and returns its path unchanged.
func (d *LocalFile) Fetch(ctx context.Context, jobID int64) (string, error) {
	if err := d.hooks.checkCancel(); err != nil {
		return "", err
	}
	info, err := os.Stat(d.path)
	if err != nil {
		return "", fmt.Errorf("local file unavailable: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("local path %s is a directory", d.path)
	}
	d.hooks.progress(100, "using local file")
	return d.path, nil
}
