// Package shard implements the storage unit of diskcache: one partition of the
// key space held in memory and mirrored to a single shard file.
//
// # Overview
//
// The store splits its key space into a fixed number of shards. Each shard
// owns a flat map from key to value, an exclusive lock, and the shardfile.File
// it persists to. Nothing is shared between shards, which is what lets
// operations on different keys proceed in parallel.
//
//	┌─────────────────────────────────────┐
//	│               SHARD                 │
//	├─────────────────────────────────────┤
//	│  entries   map[string]string        │
//	│  mu        sync.Mutex               │
//	│  loaded    populated from disk?     │
//	│  dirty     ahead of disk?           │
//	├─────────────────────────────────────┤
//	│  file      shard_<id>               │
//	└─────────────────────────────────────┘
//
// # Lifecycle
//
// A shard is created unloaded when the store is constructed. The first
// operation reads its file (a missing file is an empty shard). From then on
// the mapping in memory is authoritative:
//
//	unloaded ──first op──▶ loaded/clean ──Put/Delete──▶ loaded/dirty
//	                            ▲                            │
//	                            └──────── persist ok ────────┘
//
// If the file cannot be decoded the shard stays unloaded and every operation
// returns the same *shardfile.CorruptionError until the file is repaired,
// removed, or the shard is wiped.
//
// # Persistence Modes
//
// Write-through (default): Put and a Delete that removed something rewrite the
// shard file before returning. A failed rewrite is returned to the caller and
// the mapping is not rolled back, so memory may be ahead of disk until the
// next successful persist.
//
// Deferred (Deferred option): mutations only mark the shard dirty; the owner
// calls FlushIfDirty periodically and on shutdown.
//
// # Concurrency
//
// Every exported method takes the shard lock for its whole duration, including
// any file I/O. Operations on one shard therefore observe a total order and
// queue behind in-flight I/O on that shard. Operation counters are updated
// with sync/atomic so they can be read without the lock.
package shard
