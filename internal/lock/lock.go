// Package lock guards a store directory against being opened by two stores
// at once, which would let their shard rewrites overwrite each other.
package lock

import "errors"

// FileName is the lock file created inside a locked directory.
const FileName = "LOCK"

// ErrLocked is returned when the directory is already locked.
var ErrLocked = errors.New("directory already in use by another store")
