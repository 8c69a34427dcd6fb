package diskcache

import (
	"time"

	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Defaults used by Open.
const (
	DefaultShards    = 4
	DefaultWorkers   = 4
	DefaultQueueSize = 10
)

type options struct {
	shards        int
	workers       int
	queueSize     int
	log           *zap.Logger
	fs            afero.Fs
	metrics       *metrics.StoreMetrics
	flushInterval time.Duration
}

// Option configures a Cache.
type Option func(*options)

// WithShards sets the number of shards. It must match the count used when
// the directory was first written.
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// WithWorkers sets the number of goroutines executing requests.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithQueueSize sets how many requests may wait for a worker before callers
// block.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithFs sets the filesystem holding the cache directory.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithMetrics records store operations into m.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFlushInterval defers persistence: writes are batched and flushed every
// d, and on Close. Zero, the default, writes every change through before
// returning.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) { o.flushInterval = d }
}
