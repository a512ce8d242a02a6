package offlinequeue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileDriver stores the snapshot as a JSON file, replacing it atomically on every write.
type FileDriver struct {
	path string
	mu   sync.Mutex
}

// NewFileDriver returns a driver rooted at path. The parent directory is created lazily.
func NewFileDriver(path string) (*FileDriver, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrInvalidDSN)
	}
	return &FileDriver{path: path}, nil
}

// Path returns the snapshot location.
func (d *FileDriver) Path() string {
	return d.path
}

func (d *FileDriver) Read(context.Context) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptySnapshot(), nil
		}
		return emptySnapshot(), err
	}
	return decodeSnapshot(data)
}

func (d *FileDriver) Write(_ context.Context, snapshot Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *FileDriver) Clear(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *FileDriver) Close() error {
	return nil
}
