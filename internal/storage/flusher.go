package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/diskcache/internal/shard"
	"go.uber.org/zap"
)

// FlushStatus tracks background persistence of a single shard.
type FlushStatus struct {
	LastAttempt      time.Time // Timestamp of the last flush attempt
	LastSuccess      time.Time // Timestamp of the last successful flush
	LastError        string    // Error of the last failed attempt, empty after a success
	Shard            int       // Shard index
	ConsecutiveFails int       // Number of consecutive failed flushes
}

// flusher periodically persists dirty shards for a store opened with
// WithFlushInterval. Shards that are clean are skipped without touching disk.
type flusher struct {
	shards   []*shard.Shard
	status   map[int]*FlushStatus
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	mu       sync.RWMutex // Protects status
	wg       sync.WaitGroup
}

func newFlusher(interval time.Duration, shards []*shard.Shard, log *zap.Logger) *flusher {
	ctx, cancel := context.WithCancel(context.Background())
	return &flusher{
		shards:   shards,
		status:   make(map[int]*FlushStatus),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
	}
}

// Start runs the flush loop in a new goroutine until Stop is called.
func (f *flusher) Start() {
	f.wg.Add(1)
	go f.run()
}

func (f *flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.log.Debug("Flusher started", zap.Duration("interval", f.interval))
	for {
		select {
		case <-ticker.C:
			f.flushAll()
		case <-f.ctx.Done():
			f.log.Debug("Flusher stopped")
			return
		}
	}
}

// Stop cancels the loop and waits for an in-progress pass to finish.
func (f *flusher) Stop() {
	f.cancel()
	f.wg.Wait()
}

func (f *flusher) flushAll() {
	for _, sh := range f.shards {
		if f.ctx.Err() != nil {
			return
		}
		f.flushShard(sh)
	}
}

func (f *flusher) flushShard(sh *shard.Shard) {
	attempted, err := sh.FlushIfDirty()
	if !attempted {
		return
	}

	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.status[sh.ID]
	if !ok {
		st = &FlushStatus{Shard: sh.ID}
		f.status[sh.ID] = st
	}
	st.LastAttempt = now

	if err != nil {
		st.ConsecutiveFails++
		st.LastError = err.Error()
		f.log.Warn("Background flush failed",
			zap.Int("shard", sh.ID),
			zap.Int("consecutive_failures", st.ConsecutiveFails),
			zap.Error(err),
		)
		return
	}

	if st.ConsecutiveFails > 0 {
		f.log.Info("Background flush recovered", zap.Int("shard", sh.ID))
	}
	st.ConsecutiveFails = 0
	st.LastError = ""
	st.LastSuccess = now
}

// Status returns a copy of the status of every shard flushed so far.
func (f *flusher) Status() map[int]FlushStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[int]FlushStatus, len(f.status))
	for id, st := range f.status {
		result[id] = *st
	}
	return result
}
