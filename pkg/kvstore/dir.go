package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	fileExtension = ".bin"
	filePerm      = 0o600
	tempPattern   = ".tmp-*"
)

// DirStore keeps one file per key inside a directory. Writes go through a
// temporary file and a rename so readers never observe a partial value.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed and returns a store rooted at it.
func NewDirStore(dir string) (*DirStore, error) {
	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	return &DirStore{dir: dir}, nil
}

// Dir returns the root directory.
func (d *DirStore) Dir() string {
	return d.dir
}

func (d *DirStore) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+fileExtension)
}

// Get implements Store.
func (d *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return data, nil
}

// Put implements Store.
func (d *DirStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	tmp, err := os.CreateTemp(d.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(value)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("write %s: %w", key, errors.Join(writeErr, closeErr))
	}

	chmodErr := os.Chmod(tmpName, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("chmod %s: %w", key, chmodErr)
	}

	renameErr := os.Rename(tmpName, d.path(key))
	if renameErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("commit %s: %w", key, renameErr)
	}

	return nil
}

// Delete implements Store.
func (d *DirStore) Delete(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// Keys implements Store.
func (d *DirStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}

	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExtension) {
			continue
		}

		key, unescapeErr := url.PathUnescape(strings.TrimSuffix(name, fileExtension))
		if unescapeErr != nil {
			continue
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys, nil
}

// Close implements Store. DirStore holds no open handles.
func (d *DirStore) Close() error {
	return nil
}
