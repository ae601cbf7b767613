// Package fs is the filesystem seam used by every component that writes to
// the workspace. Tests swap in implementations that fail on demand.
package fs

import (
	"io"
	iofs "io/fs"
	"os"
)

// FS is the set of filesystem operations the workspace writers need.
type FS interface {
	MkdirAll(path string, perm os.FileMode) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]iofs.DirEntry, error)
	Stat(path string) (iofs.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(path string) error
	RemoveAll(path string) error
	Chmod(path string, perm os.FileMode) error
	// CreateTemp creates a temp file and returns its path and a writer. The
	// caller closes the writer and removes the file.
	CreateTemp(dir, pattern string) (path string, w io.WriteCloser, err error)
}

// OS is the production FS backed by the os package.
type OS struct{}

// NewOS returns the os-backed FS.
func NewOS() *OS {
	return &OS{}
}

func (*OS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (*OS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (*OS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (*OS) ReadDir(path string) ([]iofs.DirEntry, error) { return os.ReadDir(path) }

func (*OS) Stat(path string) (iofs.FileInfo, error) { return os.Stat(path) }

func (*OS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (*OS) Remove(path string) error { return os.Remove(path) }

func (*OS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (*OS) Chmod(path string, perm os.FileMode) error { return os.Chmod(path, perm) }

func (*OS) CreateTemp(dir, pattern string) (string, io.WriteCloser, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}
