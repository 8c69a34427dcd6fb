package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/diskcache/internal/faultfs"
	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/dreamware/diskcache/internal/shardfile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	scenarioKeys   = []string{"hey", "hi", "yoo-hoo", "bonjour"}
	scenarioValues = []string{"English", "English", "Slang", "French"}
)

func openMem(t *testing.T, fsys afero.Fs, shards int, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithFs(fsys), WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := New("/db", shards, opts...)
	require.NoError(t, err)
	return s
}

func openDisk(t *testing.T, dir string, shards int) *Store {
	t.Helper()
	s, err := New(dir, shards, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return s
}

// keysInSameShard returns two distinct keys that route to the same shard.
func keysInSameShard(t *testing.T, s *Store) (string, string) {
	t.Helper()
	seen := make(map[int]string)
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("key-%d", i)
		idx := s.ShardForKey(k)
		if other, ok := seen[idx]; ok {
			return other, k
		}
		seen[idx] = k
	}
	t.Fatal("no two keys share a shard")
	return "", ""
}

// keysInDifferentShards returns two keys that route to different shards.
func keysInDifferentShards(t *testing.T, s *Store) (string, string) {
	t.Helper()
	first := "key-0"
	for i := 1; i < 1000; i++ {
		k := fmt.Sprintf("key-%d", i)
		if s.ShardForKey(k) != s.ShardForKey(first) {
			return first, k
		}
	}
	t.Fatal("all keys share a shard")
	return "", ""
}

// TestNew tests store construction
func TestNew(t *testing.T) {
	t.Run("rejects invalid shard count", func(t *testing.T) {
		for _, n := range []int{0, -1} {
			_, err := New(t.TempDir(), n)
			assert.ErrorIs(t, err, ErrInvalidShardCount)
		}
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "db")
		s := openDisk(t, dir, 4)
		defer s.Close()

		exists, err := afero.DirExists(afero.NewOsFs(), dir)
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, dir, s.Dir())
		assert.Equal(t, 4, s.NumShards())
	})

	t.Run("directory cannot be created", func(t *testing.T) {
		_, err := New("/db", 2, WithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())))
		var ioe *IOError
		require.ErrorAs(t, err, &ioe)
		assert.Equal(t, "mkdir", ioe.Op)
	})

	t.Run("shards load lazily", func(t *testing.T) {
		s := openMem(t, afero.NewMemMapFs(), 4)
		defer s.Close()

		for _, info := range s.Info() {
			assert.False(t, info.Loaded)
		}
	})

	t.Run("removes stale temporary files", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, fsys.MkdirAll("/db", 0o755))
		require.NoError(t, afero.WriteFile(fsys, "/db/shard_1.tmp-42", []byte("half"), 0o600))

		s := openMem(t, fsys, 2)
		defer s.Close()

		exists, err := afero.Exists(fsys, "/db/shard_1.tmp-42")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

// TestDirectoryLock verifies two stores cannot share a directory.
func TestDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	first := openDisk(t, dir, 2)

	_, err := New(dir, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	second := openDisk(t, dir, 2)
	require.NoError(t, second.Close())
}

// TestScenario runs the greeting scenario end to end on a real directory.
func TestScenario(t *testing.T) {
	s := openDisk(t, t.TempDir(), 4)
	defer s.Close()

	for i, k := range scenarioKeys {
		require.NoError(t, s.Set(k, scenarioValues[i]))
	}

	v, ok, err := s.Get("hey")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "English", v)

	v, ok, err = s.Get("bonjour")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "French", v)

	for _, k := range []string{"yoo-hoo", "bonjour"} {
		removed, err := s.Delete(k)
		require.NoError(t, err)
		assert.True(t, removed, "delete %q", k)
	}
	for _, k := range []string{"yoo-hoo", "bonjour"} {
		_, ok, err := s.Get(k)
		require.NoError(t, err)
		assert.False(t, ok, "get %q after delete", k)
	}
	v, ok, err = s.Get("hey")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "English", v)

	require.NoError(t, s.Clear())
	_, ok, err = s.Get("hey")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSameShardKeysAreIndependent(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs(), 4)
	defer s.Close()

	k1, k2 := keysInSameShard(t, s)
	require.NoError(t, s.Set(k1, "first"))
	require.NoError(t, s.Set(k2, "second"))

	v1, _, err := s.Get(k1)
	require.NoError(t, err)
	v2, _, err := s.Get(k2)
	require.NoError(t, err)
	assert.Equal(t, "first", v1)
	assert.Equal(t, "second", v2)
}

// TestPersistence reopens a directory and checks what survived.
func TestPersistence(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, s *Store)
		want   map[string]string
		absent []string
	}{
		{
			name:   "after set",
			mutate: func(*testing.T, *Store) {},
			want:   map[string]string{"hey": "English", "hi": "English", "yoo-hoo": "Slang", "bonjour": "French"},
		},
		{
			name: "after delete",
			mutate: func(t *testing.T, s *Store) {
				for _, k := range []string{"yoo-hoo", "bonjour"} {
					_, err := s.Delete(k)
					require.NoError(t, err)
				}
			},
			want:   map[string]string{"hey": "English", "hi": "English"},
			absent: []string{"yoo-hoo", "bonjour"},
		},
		{
			name:   "after clear",
			mutate: func(t *testing.T, s *Store) { require.NoError(t, s.Clear()) },
			absent: scenarioKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := openDisk(t, dir, 2)
			for i, k := range scenarioKeys {
				require.NoError(t, s.Set(k, scenarioValues[i]))
			}
			tt.mutate(t, s)
			require.NoError(t, s.Close())

			reopened := openDisk(t, dir, 2)
			defer reopened.Close()

			for k, want := range tt.want {
				got, ok, err := reopened.Get(k)
				require.NoError(t, err)
				assert.True(t, ok, "key %q", k)
				assert.Equal(t, want, got)
			}
			for _, k := range tt.absent {
				_, ok, err := reopened.Get(k)
				require.NoError(t, err)
				assert.False(t, ok, "key %q", k)
			}
		})
	}
}

// TestDeleteAbsentKeyLeavesFileUnchanged checks delete idempotence on disk.
func TestDeleteAbsentKeyLeavesFileUnchanged(t *testing.T) {
	fsys := faultfs.New(afero.NewMemMapFs())
	s := openMem(t, fsys, 1)
	defer s.Close()

	require.NoError(t, s.Set("k", "v"))
	path := shardfile.New(fsys, "/db", 0).Path()
	before, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	renames := fsys.Hits(faultfs.OpRename)

	removed, err := s.Delete("missing")
	require.NoError(t, err)
	assert.False(t, removed)

	after, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, renames, fsys.Hits(faultfs.OpRename))
}

func TestDeterministicRouting(t *testing.T) {
	a := openMem(t, afero.NewMemMapFs(), 8)
	defer a.Close()
	b := openMem(t, afero.NewMemMapFs(), 8)
	defer b.Close()

	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("user:%d", i)
		assert.Equal(t, a.ShardForKey(k), a.ShardForKey(k))
		assert.Equal(t, a.ShardForKey(k), b.ShardForKey(k))
	}
}

// TestClear tests emptying every shard
func TestClear(t *testing.T) {
	t.Run("removes every key and file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		s := openMem(t, fsys, 4)
		defer s.Close()

		for i := 0; i < 50; i++ {
			require.NoError(t, s.Set(fmt.Sprintf("k%d", i), "v"))
		}
		require.NoError(t, s.Clear())

		for i := 0; i < 50; i++ {
			_, ok, err := s.Get(fmt.Sprintf("k%d", i))
			require.NoError(t, err)
			assert.False(t, ok)
		}
		n, err := s.Len()
		require.NoError(t, err)
		assert.Zero(t, n)

		for i := 0; i < 4; i++ {
			exists, err := afero.Exists(fsys, shardfile.New(fsys, "/db", i).Path())
			require.NoError(t, err)
			assert.False(t, exists, "shard %d file", i)
		}
	})

	t.Run("reports every failing shard", func(t *testing.T) {
		fsys := faultfs.New(afero.NewMemMapFs())
		s := openMem(t, fsys, 3)
		defer s.Close()
		for i := 0; i < 30; i++ {
			require.NoError(t, s.Set(fmt.Sprintf("k%d", i), "v"))
		}

		before := fsys.Hits(faultfs.OpRemove)
		fsys.FailOn(faultfs.OpRemove, errors.New("permission denied"))
		err := s.Clear()
		require.Error(t, err)
		var ioe *IOError
		assert.ErrorAs(t, err, &ioe)
		assert.Equal(t, before+3, fsys.Hits(faultfs.OpRemove), "every shard attempted")

		// The failed shards are dirty and get rewritten empty on close.
		fsys.Reset()
		require.NoError(t, s.Close())
		reopened := openMem(t, fsys, 3)
		defer reopened.Close()
		n, err := reopened.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// TestFailedSetKeepsMemoryAhead documents the inconsistency window after a
// failed rewrite.
func TestFailedSetKeepsMemoryAhead(t *testing.T) {
	fsys := faultfs.New(afero.NewMemMapFs())
	s := openMem(t, fsys, 2)

	require.NoError(t, s.Set("k", "old"))

	fsys.FailOn(faultfs.OpRename, errors.New("no space left on device"))
	err := s.Set("k", "new")
	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	assert.Equal(t, "rename", ioe.Op)

	got, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", got)

	// A second store over the same files sees what actually reached disk.
	other := openMem(t, fsys, 2)
	got, _, err = other.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "old", got)
	require.NoError(t, other.Close())

	// Close keeps failing while the disk does, but tries every dirty shard.
	err = s.Close()
	assert.Error(t, err)
	assert.True(t, s.IsClosed())
}

// TestCloseDrainsEveryDirtyShard checks Close attempts all shards even when
// one fails.
func TestCloseDrainsEveryDirtyShard(t *testing.T) {
	fsys := faultfs.New(afero.NewMemMapFs())
	s := openMem(t, fsys, 4)

	k1, k2 := keysInDifferentShards(t, s)
	fsys.FailOn(faultfs.OpRename, errors.New("disk full"))
	require.Error(t, s.Set(k1, "a"))
	require.Error(t, s.Set(k2, "b"))

	dirty := 0
	for _, info := range s.Info() {
		if info.Dirty {
			dirty++
		}
	}
	require.Equal(t, 2, dirty)

	before := fsys.Hits(faultfs.OpRename)
	require.Error(t, s.Close())
	assert.Equal(t, before+2, fsys.Hits(faultfs.OpRename))
}

func TestClosedStore(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs(), 2)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	_, _, err := s.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set("k", "v"), ErrClosed)
	_, err = s.Delete("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Clear(), ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
	_, err = s.Keys()
	assert.ErrorIs(t, err, ErrClosed)
}

// TestCorruptShard verifies corruption is confined to one shard.
func TestCorruptShard(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := openMem(t, fsys, 4)
	bad, good := keysInDifferentShards(t, s)
	require.NoError(t, s.Set(good, "fine"))
	require.NoError(t, s.Close())

	badPath := shardfile.New(fsys, "/db", s.ShardForKey(bad)).Path()
	require.NoError(t, afero.WriteFile(fsys, badPath, []byte("DKSH\x01garbage!!"), 0o644))

	s = openMem(t, fsys, 4)
	defer s.Close()

	_, _, err := s.Get(bad)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, badPath, ce.Path)

	v, ok, err := s.Get(good)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fine", v)

	require.NoError(t, s.Clear())
	_, ok, err = s.Get(bad)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestConcurrentSetsOnDifferentShards checks that a shard stuck in I/O does
// not hold up writes to another shard.
func TestConcurrentSetsOnDifferentShards(t *testing.T) {
	fsys := faultfs.New(afero.NewMemMapFs())
	s := openMem(t, fsys, 4)
	defer s.Close()

	slow, fast := keysInDifferentShards(t, s)
	release := fsys.Block(shardfile.Name(s.ShardForKey(slow)) + ".")
	defer release()

	slowDone := make(chan error, 1)
	go func() { slowDone <- s.Set(slow, "slow") }()

	fastDone := make(chan error, 1)
	go func() { fastDone <- s.Set(fast, "fast") }()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("set on an idle shard waited for a blocked shard")
	}

	select {
	case <-slowDone:
		t.Fatal("blocked set finished before release")
	default:
	}

	release()
	require.NoError(t, <-slowDone)

	v, _, err := s.Get(slow)
	require.NoError(t, err)
	assert.Equal(t, "slow", v)
}

// TestConcurrentAccess tests many goroutines over many keys
func TestConcurrentAccess(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs(), 4)
	defer s.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				k := fmt.Sprintf("g%d-k%d", g, i)
				assert.NoError(t, s.Set(k, k))
				v, ok, err := s.Get(k)
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, k, v)
			}
		}(g)
	}
	wg.Wait()

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 200)
	assert.IsIncreasing(t, keys)
}

// TestDeferredPersistence tests the background flusher mode
func TestDeferredPersistence(t *testing.T) {
	t.Run("flusher persists dirty shards", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		s := openMem(t, fsys, 2, WithFlushInterval(10*time.Millisecond))
		defer s.Close()

		require.NoError(t, s.Set("k", "v"))
		path := shardfile.New(fsys, "/db", s.ShardForKey("k")).Path()

		assert.Eventually(t, func() bool {
			entries, err := shardfile.New(fsys, "/db", s.ShardForKey("k")).Decode()
			return err == nil && entries["k"] == "v"
		}, 2*time.Second, 10*time.Millisecond, "file %s never written", path)

		status := s.FlushStatus()
		require.Contains(t, status, s.ShardForKey("k"))
		assert.Zero(t, status[s.ShardForKey("k")].ConsecutiveFails)
	})

	t.Run("close drains", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		s := openMem(t, fsys, 2, WithFlushInterval(time.Hour))

		require.NoError(t, s.Set("k", "v"))
		exists, err := afero.Exists(fsys, shardfile.New(fsys, "/db", s.ShardForKey("k")).Path())
		require.NoError(t, err)
		assert.False(t, exists, "nothing written before flush")

		require.NoError(t, s.Close())

		reopened := openMem(t, fsys, 2)
		defer reopened.Close()
		v, ok, err := reopened.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("manual flush", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		s := openMem(t, fsys, 2, WithFlushInterval(time.Hour))
		defer s.Close()

		require.NoError(t, s.Set("k", "v"))
		require.NoError(t, s.Flush())
		entries, err := shardfile.New(fsys, "/db", s.ShardForKey("k")).Decode()
		require.NoError(t, err)
		assert.Equal(t, "v", entries["k"])
	})

	t.Run("write-through store has no flusher", func(t *testing.T) {
		s := openMem(t, afero.NewMemMapFs(), 2)
		defer s.Close()
		assert.Nil(t, s.FlushStatus())
	})
}

func TestStoreMetrics(t *testing.T) {
	m := metrics.NewStoreMetrics()
	s := openMem(t, afero.NewMemMapFs(), 2, WithMetrics(m))
	defer s.Close()

	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	_, _, err := s.Get("a")
	require.NoError(t, err)
	_, err = s.Delete("a")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("set", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("delete", metrics.ResultOK)))
	assert.Zero(t, testutil.ToFloat64(m.Operations.WithLabelValues("set", metrics.ResultError)))
}

func TestStatsAndInfo(t *testing.T) {
	s := openMem(t, afero.NewMemMapFs(), 2)
	defer s.Close()

	require.NoError(t, s.Set("hey", "English"))
	_, _, _ = s.Get("hey")

	var sets, gets uint64
	for _, st := range s.Stats() {
		sets += st.Ops.Sets
		gets += st.Ops.Gets
	}
	assert.Equal(t, uint64(1), sets)
	assert.Equal(t, uint64(1), gets)

	infos := s.Info()
	require.Len(t, infos, 2)
	owner := infos[s.ShardForKey("hey")]
	assert.True(t, owner.Loaded)
	assert.Equal(t, 1, owner.KeyCount)
	assert.Equal(t, len("English"), owner.ByteSize)
}
