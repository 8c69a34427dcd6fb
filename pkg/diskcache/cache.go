package diskcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/diskcache/internal/storage"
	"go.uber.org/zap"
)

// Cache is a persistent key-value cache served by a pool of workers. It is
// safe for concurrent use.
type Cache struct {
	store    *storage.Store
	log      *zap.Logger
	requests chan request
	wg       sync.WaitGroup

	mu     sync.RWMutex // held for reading while enqueueing
	closed bool
}

type result struct {
	value string
	ok    bool
	keys  []string
	err   error
}

type request struct {
	ctx   context.Context
	run   func() result
	reply chan result
}

// Open opens or creates the cache stored in dir.
func Open(dir string, opts ...Option) (*Cache, error) {
	o := options{
		shards:    DefaultShards,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		return nil, fmt.Errorf("diskcache: workers must be at least 1, got %d", o.workers)
	}
	if o.queueSize < 0 {
		return nil, fmt.Errorf("diskcache: queue size must not be negative, got %d", o.queueSize)
	}

	storeOpts := []storage.Option{
		storage.WithLogger(o.log),
		storage.WithFlushInterval(o.flushInterval),
		storage.WithMetrics(o.metrics),
	}
	if o.fs != nil {
		storeOpts = append(storeOpts, storage.WithFs(o.fs))
	}
	store, err := storage.New(dir, o.shards, storeOpts...)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		store:    store,
		log:      o.log,
		requests: make(chan request, o.queueSize),
	}
	c.wg.Add(o.workers)
	for i := 0; i < o.workers; i++ {
		go c.worker()
	}
	return c, nil
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for req := range c.requests {
		if err := req.ctx.Err(); err != nil {
			req.reply <- result{err: err}
			continue
		}
		req.reply <- req.run()
	}
}

// submit queues run and waits for its result.
func (c *Cache) submit(ctx context.Context, run func() result) result {
	req := request{ctx: ctx, run: run, reply: make(chan result, 1)}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return result{err: ErrClosed}
	}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		c.mu.RUnlock()
		return result{err: ctx.Err()}
	}
	c.mu.RUnlock()

	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

// Get returns the value stored for key and whether it exists.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	res := c.submit(ctx, func() result {
		v, ok, err := c.store.Get(key)
		return result{value: v, ok: ok, err: err}
	})
	return res.value, res.ok, res.err
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	return c.submit(ctx, func() result {
		return result{err: c.store.Set(key, value)}
	}).err
}

// Delete removes key and reports whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	res := c.submit(ctx, func() result {
		ok, err := c.store.Delete(key)
		return result{ok: ok, err: err}
	})
	return res.ok, res.err
}

// Clear removes every key.
func (c *Cache) Clear(ctx context.Context) error {
	return c.submit(ctx, func() result {
		return result{err: c.store.Clear()}
	}).err
}

// Keys returns every key, sorted.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	res := c.submit(ctx, func() result {
		keys, err := c.store.Keys()
		return result{keys: keys, err: err}
	})
	return res.keys, res.err
}

// Store returns the underlying store, for serving it over HTTP or reading
// statistics.
func (c *Cache) Store() *storage.Store { return c.store }

// Close finishes queued requests, stops the workers and closes the store,
// persisting anything not yet on disk. Calling Close again does nothing.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.requests)
	c.mu.Unlock()

	c.wg.Wait()
	return c.store.Close()
}
