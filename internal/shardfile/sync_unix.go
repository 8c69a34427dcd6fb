//go:build !windows

package shardfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// syncDir flushes a rename in dir to the filesystem.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	// Some filesystems (samba mounts in containers among them) reject fsync
	// on a directory with EINVAL.
	if err := d.Sync(); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return d.Close()
}
