// Package shardfile implements the durable representation of a single shard:
// the binary record codec and the atomic rewrite protocol used to replace a
// shard file on disk.
//
// # File Format
//
// A shard file holds the complete key-value mapping of one shard:
//
//	┌───────────┬─────────┬──────────────┬──────────────────────────────┬────────────┐
//	│ "DKSH"    │ version │ count        │ count × record               │ checksum   │
//	│ 4 bytes   │ 1 byte  │ uvarint      │ klen key vlen value          │ 8 bytes LE │
//	└───────────┴─────────┴──────────────┴──────────────────────────────┴────────────┘
//
// Lengths are unsigned varints, so empty keys and values round-trip without
// ambiguity. Records are written in sorted key order which makes the encoding
// of a given mapping byte-identical across rewrites. The trailing checksum is
// the xxhash64 of every preceding byte.
//
// A missing file and a zero-length file both decode to an empty mapping.
// Anything else that does not match the format is reported as a
// *CorruptionError.
//
// # Atomic Rewrite
//
// Encode never modifies the target path in place:
//
//  1. Create a temporary file next to the target (shard_<i>.tmp-*)
//  2. Write the full encoding and fsync it
//  3. Rename the temporary file over the target
//  4. fsync the parent directory (OS filesystems only)
//
// If any step fails the temporary file is removed and the previous version of
// the shard file stays valid.
//
// # Filesystems
//
// All file access goes through an afero.Fs. Production code uses
// afero.NewOsFs(); tests substitute in-memory and fault-injecting filesystems.
package shardfile
