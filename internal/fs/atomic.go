package fs

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data next to path and renames it into place, so
// readers see either the old content or the new content. Parent
// directories are created.
func WriteFileAtomic(fsys FS, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpPath, w, err := fsys.CreateTemp(dir, ".smeder-tmp-*")
	if err != nil {
		return err
	}
	done := false
	defer func() {
		if !done {
			fsys.Remove(tmpPath)
		}
	}()
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		return err
	}
	done = true
	return nil
}
