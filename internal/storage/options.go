package storage

import (
	"time"

	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type options struct {
	fs            afero.Fs
	log           *zap.Logger
	metrics       *metrics.StoreMetrics
	flushInterval time.Duration
	noLock        bool
}

func defaultOptions() options {
	return options{
		fs:  afero.NewOsFs(),
		log: zap.NewNop(),
	}
}

// Option configures a Store.
type Option func(*options)

// WithFs sets the filesystem holding the store directory. The directory lock
// is only taken on the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records operations into m.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFlushInterval switches the store from write-through to deferred
// persistence: mutations mark their shard dirty and a background flusher
// persists dirty shards every d. Close drains whatever is left. Zero keeps
// write-through.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) { o.flushInterval = d }
}

// WithoutLock skips the directory lock.
func WithoutLock() Option {
	return func(o *options) { o.noLock = true }
}
