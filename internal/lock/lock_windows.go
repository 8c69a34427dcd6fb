//go:build windows

package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// Acquire takes an exclusive lock on dir.
//
// On Windows this atomically creates a file named LOCK inside the directory;
// if it already exists the directory is assumed to be in use.
func Acquire(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return f, nil
}

// Release closes and removes the lock file.
func Release(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
