package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tasksync-dev/tasksync/internal/optimizer"
	"github.com/tasksync-dev/tasksync/internal/source"
)

// statsRetention is how long stat samples are kept before the periodic
// sweep trims them.
const statsRetention = 7 * 24 * time.Hour

// Daemon runs sync passes on an adaptive timer. A file watcher on the local
// task source nudges it to run sooner; a busy store shortens the interval,
// a quiet one stretches it toward the cap.
type Daemon struct {
	syncer   *Syncer
	watcher  *source.Watcher
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewDaemon wraps s in a periodic runner. watcher may be nil; base is the
// starting interval (default 30s).
func NewDaemon(s *Syncer, watcher *source.Watcher, base time.Duration, logger *log.Logger) *Daemon {
	if base <= 0 {
		base = optimizer.BaseInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return &Daemon{
		syncer:   s,
		watcher:  watcher,
		interval: base,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the sync loop. The first pass is a full sync; subsequent
// passes are incremental, with a full pass whenever the watcher signals
// source changes.
func (d *Daemon) Start(ctx context.Context) error {
	var nudge <-chan struct{}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
		nudge = d.watcher.Changes()
	}

	go d.loop(ctx, nudge)
	d.logger.Printf("Sync daemon started (interval=%v)", d.interval)
	return nil
}

// Stop shuts the loop down and waits for any in-flight pass to finish,
// then drains the queue once so deferred work is not stranded.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Printf("Warning: shutdown deadline hit while waiting for sync pass")
		return
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}

	d.finalDrain(ctx)
	d.logger.Printf("Sync daemon stopped")
}

// finalDrain runs one last queue drain under the pass guard. A pass spawned
// outside the loop (a manual trigger or webhook) may still be running; it
// owns the queue until it releases the guard, and draining alongside it
// would replay the same entries twice.
func (d *Daemon) finalDrain(ctx context.Context) {
	for !d.syncer.syncing.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			d.logger.Printf("Warning: shutdown deadline hit while waiting for final drain")
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer d.syncer.syncing.Store(false)

	drained, errs := d.syncer.drainQueue(ctx)
	if drained > 0 || errs > 0 {
		d.logger.Printf("Final queue drain: processed=%d errors=%d", drained, errs)
	}
}

func (d *Daemon) loop(ctx context.Context, nudge <-chan struct{}) {
	defer close(d.done)

	if _, err := d.syncer.FullSync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		d.logger.Printf("Warning: initial full sync failed: %v", err)
	}

	timer := time.NewTimer(d.nextInterval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-nudge:
			d.runPass(ctx, true)
		case <-timer.C:
			d.runPass(ctx, false)
		}

		d.sweep(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.nextInterval(ctx))
	}
}

func (d *Daemon) runPass(ctx context.Context, full bool) {
	var err error
	if full {
		_, err = d.syncer.FullSync(ctx)
	} else {
		_, err = d.syncer.IncrementalSync(ctx)
	}
	if err != nil && !errors.Is(err, ErrSyncInProgress) {
		d.logger.Printf("Warning: sync pass failed: %v", err)
	}
}

// sweep trims expirable state between passes: the result cache, plus stat
// samples and metric history past the retention window.
func (d *Daemon) sweep(ctx context.Context) {
	swept := d.syncer.Optimizer().Cache().Sweep()
	if swept > 0 {
		d.logger.Printf("Swept %d expired cache entries", swept)
	}

	cutoff := time.Now().Add(-statsRetention)
	if err := d.syncer.store.TrimStats(ctx, cutoff); err != nil {
		d.logger.Printf("Warning: failed to trim stats: %v", err)
	}
	d.syncer.Optimizer().Metrics().Trim(cutoff)
}

// nextInterval derives the wait before the next pass from store activity
// over the last hour. Idle passes record zero-item stats and do not count;
// otherwise the daemon's own heartbeat would read as a busy store.
func (d *Daemon) nextInterval(ctx context.Context) time.Duration {
	since := time.Now().Add(-time.Hour)
	events, err := d.syncer.store.ActivityCount(ctx, since)
	if err != nil {
		d.logger.Printf("Warning: failed to read activity: %v", err)
		return d.interval
	}
	return optimizer.AdaptiveInterval(events, d.interval)
}
