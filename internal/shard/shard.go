package shard

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/diskcache/internal/shardfile"
	"go.uber.org/zap"
)

// Shard is one partition of the key space: an in-memory mapping backed by a
// single shard file. All operations on a shard are mutually exclusive; shards
// share nothing, so operations on different shards never contend.
type Shard struct {
	ID    int         // Position in the store's shard sequence
	Stats *ShardStats // Operation counters, updated atomically
	file  *shardfile.File
	log   *zap.Logger

	mu      sync.Mutex        // Serializes every access to the fields below
	entries map[string]string // nil until loaded
	loaded  bool              // entries reflect the shard file for this process
	dirty   bool              // entries differ from the last persisted state

	writeThrough bool
}

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops     OperationStats // Operation counts
	Storage StorageStats   // Storage statistics
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets            uint64 `json:"gets"`
	Sets            uint64 `json:"sets"`
	Deletes         uint64 `json:"deletes"`
	Persists        uint64 `json:"persists"`
	PersistFailures uint64 `json:"persist_failures"`
}

// StorageStats describes the in-memory mapping of a loaded shard.
type StorageStats struct {
	Keys  int `json:"keys"`  // Number of keys
	Bytes int `json:"bytes"` // Total size of all values in bytes
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Loaded   bool   `json:"loaded"`
	Dirty    bool   `json:"dirty"`
	KeyCount int    `json:"keys"`
	ByteSize int    `json:"bytes"`
}

// Option configures a Shard.
type Option func(*Shard)

// WithLogger sets the logger used for load and persist events.
func WithLogger(log *zap.Logger) Option {
	return func(s *Shard) { s.log = log.With(zap.Int("shard", s.ID)) }
}

// Deferred disables write-through. Mutations only mark the shard dirty and
// are persisted by FlushIfDirty.
func Deferred() Option {
	return func(s *Shard) { s.writeThrough = false }
}

// NewShard creates an unloaded shard bound to file. Nothing is read from disk
// until the first operation.
func NewShard(id int, file *shardfile.File, opts ...Option) *Shard {
	s := &Shard{
		ID:           id,
		Stats:        &ShardStats{},
		file:         file,
		log:          zap.NewNop(),
		writeThrough: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the shard file path.
func (s *Shard) Path() string { return s.file.Path() }

// EnsureLoaded populates the mapping from the shard file the first time it
// is called. Once a load has succeeded further calls do nothing. A failed
// load leaves the shard unloaded so the next operation tries again.
func (s *Shard) EnsureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoaded()
}

func (s *Shard) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	entries, err := s.file.Decode()
	if err != nil {
		s.log.Warn("Failed to load shard", zap.String("path", s.file.Path()), zap.Error(err))
		return err
	}
	s.entries = entries
	s.loaded = true
	s.log.Debug("Loaded shard", zap.String("path", s.file.Path()), zap.Int("keys", len(entries)))
	return nil
}

// Get returns the value stored for key and whether it was present.
func (s *Shard) Get(key string) (string, bool, error) {
	atomic.AddUint64(&s.Stats.Ops.Gets, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return "", false, err
	}
	value, ok := s.entries[key]
	return value, ok, nil
}

// Put inserts or overwrites key. With write-through enabled the shard file is
// rewritten before Put returns; if that fails the new value stays in memory
// and the shard stays dirty.
func (s *Shard) Put(key, value string) error {
	atomic.AddUint64(&s.Stats.Ops.Sets, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.entries[key] = value
	s.dirty = true

	if !s.writeThrough {
		return nil
	}
	return s.persist()
}

// Delete removes key and reports whether it was present. Deleting an absent
// key touches neither the mapping nor the shard file.
func (s *Shard) Delete(key string) (bool, error) {
	atomic.AddUint64(&s.Stats.Ops.Deletes, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	s.dirty = true

	if !s.writeThrough {
		return true, nil
	}
	return true, s.persist()
}

// Wipe empties the shard and removes its file. It does not read the existing
// file, so it also recovers a shard whose file is corrupt.
func (s *Shard) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = map[string]string{}
	s.loaded = true

	if err := s.file.Remove(); err != nil {
		// The old file is still on disk; a later flush writes the empty mapping.
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}

// FlushIfDirty persists the mapping if it has unpersisted changes. It
// reports whether a write was attempted.
func (s *Shard) FlushIfDirty() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return false, nil
	}
	return true, s.persist()
}

// persist rewrites the shard file from the current mapping. Callers hold mu.
func (s *Shard) persist() error {
	if err := s.file.Encode(s.entries); err != nil {
		atomic.AddUint64(&s.Stats.Ops.PersistFailures, 1)
		return err
	}
	atomic.AddUint64(&s.Stats.Ops.Persists, 1)
	s.dirty = false
	s.log.Debug("Persisted shard", zap.String("path", s.file.Path()), zap.Int("keys", len(s.entries)))
	return nil
}

// Keys returns the shard's keys in sorted order.
func (s *Shard) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of keys held in memory. It is zero for a shard
// that has not been loaded.
func (s *Shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Dirty reports whether the shard has changes not yet on disk.
func (s *Shard) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// GetStats returns current shard statistics. Storage figures are zero for a
// shard that has not been loaded yet.
func (s *Shard) GetStats() ShardStats {
	s.mu.Lock()
	storage := s.storageStats()
	s.mu.Unlock()

	return ShardStats{
		Ops: OperationStats{
			Gets:            atomic.LoadUint64(&s.Stats.Ops.Gets),
			Sets:            atomic.LoadUint64(&s.Stats.Ops.Sets),
			Deletes:         atomic.LoadUint64(&s.Stats.Ops.Deletes),
			Persists:        atomic.LoadUint64(&s.Stats.Ops.Persists),
			PersistFailures: atomic.LoadUint64(&s.Stats.Ops.PersistFailures),
		},
		Storage: storage,
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage := s.storageStats()
	return ShardInfo{
		ID:       s.ID,
		Path:     s.file.Path(),
		Loaded:   s.loaded,
		Dirty:    s.dirty,
		KeyCount: storage.Keys,
		ByteSize: storage.Bytes,
	}
}

func (s *Shard) storageStats() StorageStats {
	bytes := 0
	for _, v := range s.entries {
		bytes += len(v)
	}
	return StorageStats{Keys: len(s.entries), Bytes: bytes}
}
