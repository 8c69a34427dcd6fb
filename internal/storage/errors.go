package storage

import (
	"errors"

	"github.com/dreamware/diskcache/internal/lock"
	"github.com/dreamware/diskcache/internal/router"
	"github.com/dreamware/diskcache/internal/shardfile"
)

// IOError reports a failed filesystem operation. Use errors.As to inspect it.
type IOError = shardfile.IOError

// CorruptionError reports a shard file that cannot be decoded.
type CorruptionError = shardfile.CorruptionError

var (
	// ErrClosed is returned by every operation on a closed Store.
	ErrClosed = errors.New("store closed")

	// ErrCorrupt matches any *CorruptionError via errors.Is.
	ErrCorrupt = shardfile.ErrCorrupt

	// ErrInvalidShardCount is returned by New for a shard count below one.
	ErrInvalidShardCount = router.ErrInvalidShardCount

	// ErrLocked is returned by New when another store holds the directory.
	ErrLocked = lock.ErrLocked
)
