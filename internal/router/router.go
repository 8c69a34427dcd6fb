// Package router maps keys to shard indexes.
//
// Routing must be stable across process restarts: a key written by one
// process has to be found in the same shard file by the next. The hash is
// xxhash64 over the key bytes, which has no per-process seed.
package router

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidShardCount is returned for a shard count below one.
var ErrInvalidShardCount = errors.New("shard count must be at least 1")

// Router is the immutable routing table of a store. It is safe for
// concurrent use without locking.
//
// Routing process:
//
//	Key → xxhash64 → mod numShards → shard index
//	"user:123" → 0x9e3f…a1 → 2
type Router struct {
	// numShards is fixed at construction. Changing it would move keys to
	// different shards and orphan their data in the old files.
	numShards int
}

// New creates a router over numShards shards.
//
// Parameters:
//   - numShards: Total number of shards (must be > 0)
//
// Example:
//
//	r, err := router.New(4)
//	idx := r.ShardForKey("hey")
func New(numShards int) (*Router, error) {
	if numShards < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShardCount, numShards)
	}
	return &Router{numShards: numShards}, nil
}

// ShardForKey returns the index of the shard that owns key, in [0, NumShards).
// The same key always maps to the same index for a given shard count.
func (r *Router) ShardForKey(key string) int {
	return int(xxhash.Sum64String(key) % uint64(r.numShards))
}

// NumShards returns the shard count.
func (r *Router) NumShards() int {
	return r.numShards
}

// Distribution counts how many of keys route to each shard. It is meant for
// diagnostics such as checking the spread of a key sample.
func (r *Router) Distribution(keys []string) []int {
	counts := make([]int, r.numShards)
	for _, k := range keys {
		counts[r.ShardForKey(k)]++
	}
	return counts
}
