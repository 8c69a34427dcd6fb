package storage

import (
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/diskcache/internal/lock"
	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/dreamware/diskcache/internal/router"
	"github.com/dreamware/diskcache/internal/shard"
	"github.com/dreamware/diskcache/internal/shardfile"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Operation names used for metrics.
const (
	opGet    = "get"
	opSet    = "set"
	opDelete = "delete"
	opClear  = "clear"
	opClose  = "close"
)

// Store is a persistent key-value store partitioned into a fixed number of
// shards, each mirrored to its own file under the store directory.
//
// A Store is safe for concurrent use. Operations on keys in different shards
// run in parallel; operations on the same shard are serialized.
type Store struct {
	dir      string
	router   *router.Router
	shards   []*shard.Shard // immutable after New
	fs       afero.Fs
	log      *zap.Logger
	metrics  *metrics.StoreMetrics
	lockFile *os.File
	flusher  *flusher

	writeThrough bool
	closed       atomic.Bool
	closeMu      sync.Mutex
}

// New opens a store rooted at dir with shardCount shards, creating dir if it
// does not exist. Shard files are read lazily on first access.
//
// Parameters:
//   - dir: Store directory (created if missing)
//   - shardCount: Number of shards (must be > 0, and must stay the same
//     across reopenings of the same directory)
//
// Example:
//
//	s, err := storage.New("./db", 4, storage.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func New(dir string, shardCount int, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r, err := router.New(shardCount)
	if err != nil {
		return nil, err
	}

	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	s := &Store{
		dir:          dir,
		router:       r,
		shards:       make([]*shard.Shard, shardCount),
		fs:           o.fs,
		log:          o.log.With(zap.String("dir", dir)),
		metrics:      o.metrics,
		writeThrough: o.flushInterval <= 0,
	}

	if _, isOS := o.fs.(*afero.OsFs); isOS && !o.noLock {
		f, err := lock.Acquire(dir)
		if err != nil {
			return nil, &IOError{Op: "lock", Path: dir, Err: err}
		}
		s.lockFile = f
	}

	removed, err := shardfile.RemoveStaleTemp(o.fs, dir)
	if err != nil {
		s.log.Warn("Failed to remove stale temporary files", zap.Error(err))
	}
	for _, p := range removed {
		s.log.Info("Removed stale temporary file", zap.String("path", p))
	}

	shardOpts := []shard.Option{shard.WithLogger(s.log)}
	if !s.writeThrough {
		shardOpts = append(shardOpts, shard.Deferred())
	}
	for i := range s.shards {
		s.shards[i] = shard.NewShard(i, shardfile.New(o.fs, dir, i), shardOpts...)
	}

	if !s.writeThrough {
		s.flusher = newFlusher(o.flushInterval, s.shards, s.log)
		s.flusher.Start()
	}

	s.log.Info("Opened store",
		zap.Int("shards", shardCount),
		zap.Bool("write_through", s.writeThrough),
	)
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// NumShards returns the fixed shard count.
func (s *Store) NumShards() int { return s.router.NumShards() }

// ShardForKey returns the index of the shard that owns key.
func (s *Store) ShardForKey(key string) int { return s.router.ShardForKey(key) }

func (s *Store) shardFor(key string) *shard.Shard {
	return s.shards[s.router.ShardForKey(key)]
}

// Get returns the value stored for key and whether it exists. The first
// access to a shard loads it from disk, which can fail with an *IOError or a
// *CorruptionError.
func (s *Store) Get(key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	value, ok, err := s.shardFor(key).Get(key)
	s.metrics.ObserveOp(opGet, err)
	return value, ok, err
}

// Set stores value under key. In write-through mode the shard file has been
// rewritten when Set returns nil. If the rewrite fails the new value is still
// visible in memory but not on disk.
func (s *Store) Set(key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	sh := s.shardFor(key)

	start := time.Now()
	err := sh.Put(key, value)
	s.observeMutation(opSet, sh, start, err)
	return err
}

// Delete removes key and reports whether it existed. Deleting a missing key
// returns false and does not rewrite the shard file.
func (s *Store) Delete(key string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	sh := s.shardFor(key)

	start := time.Now()
	removed, err := sh.Delete(key)
	if removed || err != nil {
		s.observeMutation(opDelete, sh, start, err)
	} else {
		s.metrics.ObserveOp(opDelete, nil)
	}
	return removed, err
}

func (s *Store) observeMutation(op string, sh *shard.Shard, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOp(op, err)
	if s.writeThrough {
		s.metrics.ObservePersist(time.Since(start))
	}
	s.metrics.SetKeys(sh.ID, sh.Len())
}

// Clear empties every shard and removes every shard file. All shards are
// attempted; the returned error combines every failure, and shards that
// failed may still hold their old file.
func (s *Store) Clear() error {
	if s.closed.Load() {
		return ErrClosed
	}

	var err error
	for _, sh := range s.shards {
		if werr := sh.Wipe(); werr != nil {
			s.log.Warn("Failed to clear shard", zap.Int("shard", sh.ID), zap.Error(werr))
			err = multierr.Append(err, werr)
		}
		s.metrics.SetKeys(sh.ID, 0)
	}
	s.metrics.ObserveOp(opClear, err)
	return err
}

// Flush persists every dirty shard now. It is only useful with
// WithFlushInterval; in write-through mode shards are clean unless a
// previous rewrite failed.
func (s *Store) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}

	var err error
	for _, sh := range s.shards {
		if _, ferr := sh.FlushIfDirty(); ferr != nil {
			err = multierr.Append(err, ferr)
		}
	}
	return err
}

// Close stops background flushing, persists every dirty shard and releases
// the directory lock. Every dirty shard is attempted even if one fails; the
// first failure is returned. Calling Close again does nothing.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	if s.flusher != nil {
		s.flusher.Stop()
	}

	var g errgroup.Group
	for _, sh := range s.shards {
		g.Go(func() error {
			flushed, err := sh.FlushIfDirty()
			if err != nil {
				s.log.Error("Failed to flush shard on close", zap.Int("shard", sh.ID), zap.Error(err))
			} else if flushed {
				s.log.Debug("Flushed shard on close", zap.Int("shard", sh.ID))
			}
			return err
		})
	}
	err := g.Wait()

	if s.lockFile != nil {
		if lerr := lock.Release(s.lockFile); lerr != nil && err == nil {
			err = &IOError{Op: "lock", Path: s.dir, Err: lerr}
		}
		s.lockFile = nil
	}

	s.metrics.ObserveOp(opClose, err)
	s.log.Info("Closed store", zap.Error(err))
	return err
}

// Keys returns every key in the store, sorted. It loads every shard.
func (s *Store) Keys() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var all []string
	for _, sh := range s.shards {
		keys, err := sh.Keys()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}
	sort.Strings(all)
	return all, nil
}

// Len returns the number of keys in the store. It loads every shard.
func (s *Store) Len() (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	n := 0
	for _, sh := range s.shards {
		if err := sh.EnsureLoaded(); err != nil {
			return 0, err
		}
		n += sh.Len()
	}
	return n, nil
}

// Info returns metadata for every shard, in shard order. It does not load
// shards.
func (s *Store) Info() []shard.ShardInfo {
	infos := make([]shard.ShardInfo, len(s.shards))
	for i, sh := range s.shards {
		infos[i] = sh.Info()
	}
	return infos
}

// Stats returns operation and storage statistics for every shard.
func (s *Store) Stats() []shard.ShardStats {
	stats := make([]shard.ShardStats, len(s.shards))
	for i, sh := range s.shards {
		stats[i] = sh.GetStats()
	}
	return stats
}

// FlushStatus reports the background flusher's per-shard state. It returns
// nil for a write-through store.
func (s *Store) FlushStatus() map[int]FlushStatus {
	if s.flusher == nil {
		return nil
	}
	return s.flusher.Status()
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool { return s.closed.Load() }

// IsCorrupt reports whether err came from a corrupt shard file.
func IsCorrupt(err error) bool { return errors.Is(err, ErrCorrupt) }
