// Package diskcache is an embeddable, persistent key-value cache.
//
// Keys and values are strings. Data is partitioned into a fixed number of
// shards, each held in memory and mirrored to one file under the cache
// directory, so the contents survive a restart as long as the cache is
// reopened with the same shard count.
//
// A Cache runs a small pool of workers that execute requests from a bounded
// queue. Every method takes a context that bounds how long the caller waits
// for a free queue slot and for the reply. Once a worker has picked up a
// request the operation runs to completion even if the caller gave up, so a
// shard file is never left half-written by a cancelled call.
//
//	c, err := diskcache.Open("./data", diskcache.WithShards(8))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.Set(ctx, "hey", "English"); err != nil {
//	    return err
//	}
//	v, ok, err := c.Get(ctx, "hey")
//
// Errors returned by the cache can be inspected with errors.As for *IOError
// and *CorruptionError, and with errors.Is for ErrCorrupt and ErrClosed.
package diskcache
