package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	apperrors "github.com/deemusic/songcache/internal/errors"
)

// FileProber answers questions about local files
type FileProber interface {
	Exists(path string) bool
	Size(path string) (int64, error)
}

// FileRemover unlinks local files. Removing an absent path is not an error.
type FileRemover interface {
	Remove(path string) error
}

// Disk implements FileProber and FileRemover over an afero filesystem
type Disk struct {
	fs afero.Fs
}

// NewDisk creates a Disk on fs; nil selects the OS filesystem
func NewDisk(fs afero.Fs) *Disk {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Disk{fs: fs}
}

// Exists reports whether path exists
func (d *Disk) Exists(path string) bool {
	ok, err := afero.Exists(d.fs, path)
	return err == nil && ok
}

// Size returns the size of the file at path in bytes
func (d *Disk) Size(path string) (int64, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Remove deletes the file at path
func (d *Disk) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := d.fs.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return apperrors.NewFileSystemError(fmt.Sprintf("failed to remove %s", path), err)
}
