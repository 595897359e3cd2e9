package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// FileCache implements file-based cache
// Structure: {cacheDir}/{z}/{x}/{y}.png
//
// Entries are written to a temp file and renamed into place, so a reader sees
// either the old entry, the new one, or none. Concurrent writers of the same
// key are not serialized; the last rename wins.
type FileCache struct {
	cacheDir string
}

var _ Cache = (*FileCache)(nil)

// NewFileCache does not touch the filesystem. Directories are created on the
// first Set under them.
func NewFileCache(cacheDir string) *FileCache {
	return &FileCache{
		cacheDir: cacheDir,
	}
}

// Path returns the file that holds key.
func (c *FileCache) Path(key TileKey) string {
	return filepath.Join(c.cacheDir, strconv.Itoa(key.Z), strconv.Itoa(key.X), strconv.Itoa(key.Y)+".png")
}

func (c *FileCache) Get(_ context.Context, key TileKey) ([]byte, bool, error) {
	data, err := os.ReadFile(c.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read tile %s: %w", key, err)
	}

	return data, true, nil
}

func (c *FileCache) Set(_ context.Context, key TileKey, value []byte) error {
	filePath := c.Path(key)
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set tile permissions: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}

	return nil
}
