// Package scratch manages ephemeral per-item working directories. Every
// workspace is removed by Release, which callers defer immediately after
// acquiring it.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Scratch")

// Workspace is a uniquely named directory below a scratch root
type Workspace struct {
	dir      string
	released bool
}

// New creates a fresh workspace directory under root. An empty root uses
// the OS temp directory.
func New(root string) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "video-thumbnails")
	}

	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch workspace: %w", err)
	}

	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of name inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Remove deletes a single file from the workspace. A missing file is not an
// error. Failures are logged and swallowed.
func (w *Workspace) Remove(name string) {
	if err := os.Remove(w.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.WARNING, "Failed to remove scratch file %s: %v\n", w.Path(name), err)
	}
}

// Release removes the workspace and everything in it. Failures are logged
// and swallowed so they never replace the caller's own error.
func (w *Workspace) Release() {
	if w == nil || w.released {
		return
	}

	w.released = true
	if err := os.RemoveAll(w.dir); err != nil {
		log.Emit(logger.WARNING, "Failed to release scratch workspace %s: %v\n", w.dir, err)
		return
	}

	log.Emit(logger.DEBUG, "Released scratch workspace %s\n", w.dir)
}
