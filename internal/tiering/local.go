package tiering

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalTier serves assets from ephemeral local disk, the fast path for
// recently acquired content.
type LocalTier struct {
	dir string
}

// NewLocalTier ensures the data directory exists.
func NewLocalTier(dir string) (*LocalTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &LocalTier{dir: dir}, nil
}

func (t *LocalTier) Name() string { return "local" }

// Path maps a storage key to its on-disk location. Keys are flat file names;
// Base strips any path components a corrupt locator might carry.
func (t *LocalTier) Path(key string) string {
	return filepath.Join(t.dir, filepath.Base(key))
}

func (t *LocalTier) Exists(_ context.Context, key string) bool {
	info, err := os.Stat(t.Path(key))
	return err == nil && !info.IsDir()
}

func (t *LocalTier) Open(_ context.Context, key string) (io.ReadSeekCloser, int64, error) {
	f, err := os.Open(t.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrMiss
		}
		return nil, 0, fmt.Errorf("open local asset: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat local asset: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, ErrMiss
	}
	return f, info.Size(), nil
}

// Remove deletes the local copy; missing files are not an error.
func (t *LocalTier) Remove(key string) error {
	err := os.Remove(t.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove local asset: %w", err)
	}
	return nil
}
