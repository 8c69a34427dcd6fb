package diskcache

import "github.com/dreamware/diskcache/internal/storage"

type (
	// IOError reports a failed filesystem operation.
	IOError = storage.IOError

	// CorruptionError reports a shard file that cannot be decoded.
	CorruptionError = storage.CorruptionError
)

var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = storage.ErrClosed

	// ErrCorrupt matches any *CorruptionError via errors.Is.
	ErrCorrupt = storage.ErrCorrupt

	// ErrInvalidShardCount is returned by Open for a shard count below one.
	ErrInvalidShardCount = storage.ErrInvalidShardCount

	// ErrLocked is returned by Open when another process has the directory
	// open.
	ErrLocked = storage.ErrLocked
)
