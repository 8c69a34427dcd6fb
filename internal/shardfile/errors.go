package shardfile

import (
	"errors"
	"fmt"
)

// ErrCorrupt matches any *CorruptionError via errors.Is.
var ErrCorrupt = errors.New("shard file corrupt")

// IOError reports a failed filesystem operation on a shard file or the
// store directory.
type IOError struct {
	Op   string // mkdir, create, write, sync, rename, remove, read, lock
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CorruptionError reports a shard file that exists but cannot be decoded.
type CorruptionError struct {
	Path   string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("shard file %s is corrupt: %s", e.Path, e.Reason)
}

// Is lets errors.Is(err, ErrCorrupt) match.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
