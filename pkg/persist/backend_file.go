package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

const lockFileName = ".synced.lock"

// FileBackend stores one file per document under a directory. Writes go to
// a temporary file in the same directory which is synced and renamed over
// the target, so a crash mid-write never truncates the committed copy.
type FileBackend struct {
	dir  string
	lock *flock.Flock

	// beforeRename runs after the temp file is written and closed. Tests use
	// it to fail the write path between encode and commit.
	beforeRename func(tmp string) error
}

// NewFileBackend creates dir when needed and takes an exclusive lock on it.
// A second backend on the same directory, in this or another process, fails
// with ErrLocked until Close is called.
func NewFileBackend(dir string) (*FileBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("persist: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create directory %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("persist: lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &FileBackend{dir: dir, lock: lock}, nil
}

// Dir returns the backing directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.dir, key), nil
}

func (b *FileBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist: read %s: %w", path, err)
	}
	return data, true, nil
}

func (b *FileBackend) Write(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("persist: write temp for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("persist: sync temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp for %s: %w", key, err)
	}
	if b.beforeRename != nil {
		if err := b.beforeRename(tmpPath); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("persist: replace %s: %w", path, err)
	}
	committed = true
	return nil
}

func (b *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("persist: delete %s: %w", path, err)
	}
	return nil
}

// List returns the document files in the directory. Hidden files, which
// include the lock file and in-flight temp files, are skipped.
func (b *FileBackend) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("persist: list %s: %w", b.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the directory lock.
func (b *FileBackend) Close() error {
	if b.lock == nil {
		return nil
	}
	return b.lock.Unlock()
}
