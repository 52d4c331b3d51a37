package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Local stores objects as files in a directory.
type Local struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewLocal creates a store rooted at dir on fs. A nil fs means the OS filesystem.
func NewLocal(fs afero.Fs, dir string) (*Local, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Local{fs: fs, dir: dir}, nil
}

// Name implements Store.
func (l *Local) Name() string { return "local:" + l.dir }

// Get implements Store.
func (l *Local) Get(_ context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(l.fs, l.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Put implements Store. The object is written to a temp file in the same directory and
// renamed over the target.
func (l *Local) Put(_ context.Context, name string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmp, err := afero.TempFile(l.fs, l.dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		l.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		l.fs.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := l.fs.Rename(tmpName, l.path(name)); err != nil {
		l.fs.Remove(tmpName)
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}
