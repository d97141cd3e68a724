package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Scratch manages short-lived files: upload spools and per-run working
// directories used while frames are extracted.
type Scratch struct {
	dir string
}

// NewScratch creates a new Scratch area below dir.
// If dir is empty, os.TempDir()/mediaflow is used.
// The directory is created if it doesn't exist.
func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mediaflow")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch root directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *Scratch) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.dir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, contextReader{ctx: ctx, r: data}); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// NewRunDir creates a unique working directory for one processing run.
// The caller removes it with RemoveRunDir when the run ends.
func (s *Scratch) NewRunDir(name string) (string, error) {
	dir, err := os.MkdirTemp(s.dir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

// RemoveRunDir deletes a run directory and everything in it.
func (s *Scratch) RemoveRunDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run directory %s: %w", dir, err)
	}
	return nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *Scratch) CleanupTemp(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}
