// Package storage implements the diskcache storage engine: a key-value store
// whose working set lives in memory, partitioned into independent shards,
// each durably mirrored to one file on disk.
//
// # Overview
//
// A Store owns a fixed, ordered set of shards. Every key belongs to exactly
// one shard, chosen by a stable hash of the key, so a key written by one
// process is found in the same shard file by the next.
//
//	┌─────────────────────────────────────────────┐
//	│                    Store                    │
//	│   Get / Set / Delete / Clear / Close        │
//	└──────────────────────┬──────────────────────┘
//	                       │ xxhash64(key) mod N
//	      ┌────────────────┼────────────────┐
//	      ▼                ▼                ▼
//	┌───────────┐    ┌───────────┐    ┌───────────┐
//	│  Shard 0  │    │  Shard 1  │    │ Shard N-1 │
//	│  map + mu │    │  map + mu │    │  map + mu │
//	└─────┬─────┘    └─────┬─────┘    └─────┬─────┘
//	      ▼                ▼                ▼
//	   shard_0          shard_1         shard_<N-1>
//
// # Directory Layout
//
// The store directory holds one file per shard, named shard_<index>, plus a
// LOCK file that keeps a second Store out while one has the directory open.
// A missing shard file is an empty shard. Leftover shard_<index>.tmp-* files from an interrupted rewrite are
// removed when the store is opened.
//
// The shard count is not recorded on disk. Reopening a directory with a
// different count routes keys to different shards and hides existing data.
//
// # Persistence
//
// By default every Set, and every Delete that removed a key, rewrites the
// owning shard's file before returning (write-through). Rewrites go through a
// temporary file and an atomic rename, so a crash leaves either the old or
// the new file, never a partial one.
//
// WithFlushInterval trades durability for throughput: mutations mark the
// shard dirty and a background flusher persists dirty shards periodically.
// Close persists anything still dirty.
//
// # Errors
//
//   - *IOError: a file could not be created, written, renamed, removed or
//     read. Returned as-is; the store never retries.
//   - *CorruptionError (errors.Is ErrCorrupt): a shard file exists but does
//     not decode. The shard stays unusable until the file is fixed or
//     removed, or Clear is called.
//   - ErrClosed: the store has been closed.
//
// A missing key is not an error: Get reports it with ok == false and Delete
// with removed == false.
//
// After a failed rewrite the in-memory mapping is not rolled back, so a
// following Get returns the value that failed to persist. Callers that need
// strict durability must check the error of every mutation.
//
// # Concurrency
//
// The routing table and shard slice are immutable after New, so routing
// takes no lock. Each shard serializes its own operations, including the file
// I/O they perform. Operations on different shards never wait for each
// other.
package storage
