// Package cache implements the two-tier embedding cache: an in-process
// LRU (L1) in front of a shared Redis tier (L2), keyed by request
// fingerprint.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// Tier identifies which cache tier served a hit.
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
)

// L2 is the remote tier consumed by the orchestrator. Satisfied by
// *RedisCache.
type L2 interface {
	Get(ctx context.Context, key Key) (*models.CacheEntry, error)
	Put(ctx context.Context, key Key, entry *models.CacheEntry) error
}

type fillJob struct {
	key   Key
	entry *models.CacheEntry
}

// Cache composes L1 and L2. Lookups check L1 first, then L2 with L1
// promotion on hit; L2 errors degrade to misses. Stores write L1
// synchronously and L2 through a bounded fill queue drained by a
// background worker, so L2 latency never lands on the request path.
type Cache struct {
	l1     *LRU
	l2     L2
	logger *zap.Logger

	fills   chan fillJob
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New builds the orchestrator and starts its fill worker. queueSize
// bounds the pending L2 writes; when full, new fills are dropped and
// counted rather than blocking or growing without bound.
func New(l1 *LRU, l2 L2, queueSize int, logger *zap.Logger) *Cache {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Cache{
		l1:     l1,
		l2:     l2,
		logger: logger,
		fills:  make(chan fillJob, queueSize),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.fillWorker()
	return c
}

// Lookup returns the entry for key and the tier that served it, or
// ok=false on a miss. An unreachable L2 is indistinguishable from a miss.
func (c *Cache) Lookup(ctx context.Context, key Key) (*models.CacheEntry, Tier, bool) {
	if entry, ok := c.l1.Get(key); ok {
		return entry, TierL1, true
	}

	entry, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("l2 lookup failed, treating as miss",
			zap.String("key", key.String()), zap.Error(err))
		return nil, "", false
	}
	if entry == nil {
		return nil, "", false
	}

	// Promote so the key stays fast after a cold L1.
	c.l1.Put(key, entry)
	return entry, TierL2, true
}

// Store records a resolved miss: L1 synchronously, L2 asynchronously.
func (c *Cache) Store(ctx context.Context, key Key, entry *models.CacheEntry) {
	c.l1.Put(key, entry)

	select {
	case c.fills <- fillJob{key: key, entry: entry}:
	default:
		c.dropped.Add(1)
		c.logger.Warn("l2 fill queue full, dropping write",
			zap.String("key", key.String()))
	}
}

// DroppedFills returns how many L2 writes were discarded due to a full
// fill queue.
func (c *Cache) DroppedFills() int64 {
	return c.dropped.Load()
}

// Close stops the fill worker after draining queued writes.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

func (c *Cache) fillWorker() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.fills:
			c.fill(job)
		case <-c.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case job := <-c.fills:
					c.fill(job)
				default:
					return
				}
			}
		}
	}
}

func (c *Cache) fill(job fillJob) {
	if err := c.l2.Put(context.Background(), job.key, job.entry); err != nil {
		c.logger.Warn("l2 fill failed",
			zap.String("key", job.key.String()), zap.Error(err))
	}
}
