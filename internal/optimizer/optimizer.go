// Package optimizer batches, caches, and prioritizes sync work so large
// backlogs stay tractable. Small inputs run sequentially; large inputs are
// partitioned into batches processed by a bounded worker pool, with a
// result cache short-circuiting unchanged items.
package optimizer

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// Direction tells the per-item sync function which way an item flows.
type Direction string

const (
	ToRemote      Direction = "to_remote"
	FromRemote    Direction = "from_remote"
	Bidirectional Direction = "bidirectional"
)

// SyncFunc performs a single-item sync in the given direction.
type SyncFunc func(ctx context.Context, t *task.Task, dir Direction) error

// Config bounds the optimizer's batching and caching behavior.
type Config struct {
	// BatchSize is the sequential-processing threshold and batch width
	// (default 50).
	BatchSize int
	// ConcurrentLimit caps batches in flight at once (default 10).
	ConcurrentLimit int
	// CacheTTL is how long successful results short-circuit resyncs
	// (default 5 minutes).
	CacheTTL time.Duration
	// CacheCapacity bounds the result cache (default 1000).
	CacheCapacity int
	// Logger for optimizer activity.
	Logger *log.Logger
}

// DefaultConfig returns the standard optimizer bounds.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		ConcurrentLimit: 10,
		CacheTTL:        5 * time.Minute,
		CacheCapacity:   1000,
	}
}

// WithDefaults fills unset bounds from DefaultConfig. Callers that branch
// on the bounds themselves must normalize first, or a zero BatchSize reads
// as "batch everything".
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.ConcurrentLimit <= 0 {
		c.ConcurrentLimit = def.ConcurrentLimit
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = def.CacheCapacity
	}
	return c
}

// Result summarizes one optimized sync run.
type Result struct {
	Processed int
	Errors    int
	Duration  time.Duration
}

// Optimizer coordinates batched, cached, prioritized sync execution.
type Optimizer struct {
	cfg     Config
	cache   *Cache
	metrics *Metrics
	syncOne SyncFunc
	logger  *log.Logger
}

// New creates an Optimizer that delegates per-item work to syncOne.
func New(cfg Config, syncOne SyncFunc) *Optimizer {
	cfg = cfg.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[optimizer] ", log.LstdFlags)
	}
	return &Optimizer{
		cfg:     cfg,
		cache:   NewCache(cfg.CacheTTL, cfg.CacheCapacity),
		metrics: NewMetrics(500),
		syncOne: syncOne,
		logger:  logger,
	}
}

// Cache exposes the result cache, mainly so the daemon can sweep it.
func (o *Optimizer) Cache() *Cache {
	return o.cache
}

// Metrics exposes the rolling metrics for reporting.
func (o *Optimizer) Metrics() *Metrics {
	return o.metrics
}

// PerformOptimizedSync syncs tasks in the given direction. Inputs at or
// under the batch size run sequentially; larger inputs are prioritized,
// partitioned, and run through the worker pool. Per-item failures are
// counted, not fatal.
func (o *Optimizer) PerformOptimizedSync(ctx context.Context, tasks []*task.Task, dir Direction) Result {
	start := time.Now()
	var processed, errors, hits int64

	if len(tasks) <= o.cfg.BatchSize {
		for _, t := range tasks {
			o.syncItem(ctx, t, dir, &processed, &errors, &hits)
		}
	} else {
		ordered := Prioritize(tasks)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.ConcurrentLimit)

		for start := 0; start < len(ordered); start += o.cfg.BatchSize {
			end := start + o.cfg.BatchSize
			if end > len(ordered) {
				end = len(ordered)
			}
			batch := ordered[start:end]
			g.Go(func() error {
				for _, t := range batch {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					o.syncItem(gctx, t, dir, &processed, &errors, &hits)
				}
				return nil
			})
		}
		// Worker errors are only context cancellations; per-item errors
		// are already counted.
		_ = g.Wait()
	}

	res := Result{
		Processed: int(atomic.LoadInt64(&processed)),
		Errors:    int(atomic.LoadInt64(&errors)),
		Duration:  time.Since(start),
	}
	o.metrics.Record(string(dir), res, int(atomic.LoadInt64(&hits)))
	o.logger.Printf("Optimized sync (%s): processed=%d errors=%d cache_hits=%d in %v",
		dir, res.Processed, res.Errors, hits, res.Duration.Round(time.Millisecond))
	return res
}

func (o *Optimizer) syncItem(ctx context.Context, t *task.Task, dir Direction, processed, errors, hits *int64) {
	if o.cache.Hit(t) {
		atomic.AddInt64(hits, 1)
		atomic.AddInt64(processed, 1)
		return
	}
	if err := o.syncOne(ctx, t, dir); err != nil {
		atomic.AddInt64(errors, 1)
		return // failures are never cached
	}
	o.cache.Put(t)
	atomic.AddInt64(processed, 1)
}
