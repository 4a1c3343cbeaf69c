// Package syncer drives the bidirectional synchronization between the
// local task store and the remote issue tracker.
//
// A full pass pulls every labeled issue, pushes every dirty local task,
// and drains the offline queue. An incremental pass touches only tasks
// flagged dirty since the last pass, then drains the queue. Exactly one
// pass runs at a time; a second invocation is rejected, not queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/optimizer"
	"github.com/tasksync-dev/tasksync/internal/ratelimit"
	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/source"
	"github.com/tasksync-dev/tasksync/internal/store"
)

// Sync pass kinds, used for statistics and events.
const (
	KindFullSync        = "full_sync"
	KindIncrementalSync = "incremental_sync"
	KindWebhookSync     = "webhook_sync"
)

// ErrSyncInProgress is returned when a pass is requested while another is
// still running.
var ErrSyncInProgress = errors.New("syncer: sync already in progress")

// Config bounds a Syncer.
type Config struct {
	// Label scopes which remote issues belong to this store.
	Label string
	// PageSize for remote list pagination (default 100).
	PageSize int
	// HourlyBudget caps remote calls per rolling hour (default 5000).
	HourlyBudget int
	// DrainBatch bounds queue replay per target per pass (default 10).
	DrainBatch int
	// MaxRetries for queue entries created by this syncer (default 3).
	MaxRetries int
	// Optimizer bounds for large-batch processing.
	Optimizer optimizer.Config
	// Logger for sync activity.
	Logger *log.Logger
}

// Result summarizes one sync pass.
type Result struct {
	Processed int
	Errors    int
	Duration  time.Duration
}

// Syncer orchestrates sync passes. All remote access flows through the
// hourly budget; work that cannot run now is deferred onto the store's
// queue instead of failing.
type Syncer struct {
	store   *store.Store
	client  remote.Client
	scanner *source.Scanner
	bus     *event.Bus
	budget  *ratelimit.Window
	opt     *optimizer.Optimizer
	cfg     Config
	logger  *log.Logger

	syncing atomic.Bool
	now     func() time.Time
}

// New creates a Syncer. The scanner may be nil when no local task source
// is configured (pull-only deployments).
func New(st *store.Store, client remote.Client, scanner *source.Scanner, bus *event.Bus, cfg Config) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.HourlyBudget <= 0 {
		cfg.HourlyBudget = 5000
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	// Normalize before storing: pushPhase compares against
	// cfg.Optimizer.BatchSize, and a zero threshold would route every
	// push through the optimizer.
	if cfg.Optimizer.Logger == nil {
		cfg.Optimizer.Logger = logger
	}
	cfg.Optimizer = cfg.Optimizer.WithDefaults()

	s := &Syncer{
		store:   st,
		client:  client,
		scanner: scanner,
		bus:     bus,
		budget:  ratelimit.NewWindow(cfg.HourlyBudget, time.Hour),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	s.opt = optimizer.New(cfg.Optimizer, s.syncItem)
	return s
}

// Budget exposes the rolling-hour request window, mainly for tests and
// status reporting.
func (s *Syncer) Budget() *ratelimit.Window {
	return s.budget
}

// Optimizer exposes the performance layer for sweeping and reporting.
func (s *Syncer) Optimizer() *optimizer.Optimizer {
	return s.opt
}

// SetClock overrides the syncer's time source. Intended for tests.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Syncing reports whether a pass is currently running.
func (s *Syncer) Syncing() bool {
	return s.syncing.Load()
}

// FullSync reconciles both sides completely: pull phase, push phase, then
// queue drain. A total pull failure aborts the pass; no partial pull
// result is trustworthy.
func (s *Syncer) FullSync(ctx context.Context) (*Result, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	start := s.now()
	s.publish(event.TypeSyncStarted, event.SyncStarted{Kind: KindFullSync})
	s.logger.Printf("Starting full sync (label=%s)", s.cfg.Label)

	pulled, pullErrs, err := s.pullPhase(ctx)
	if err != nil {
		duration := s.now().Sub(start)
		if serr := s.store.RecordStat(ctx, KindFullSync, duration, pulled, pullErrs+1); serr != nil {
			s.logger.Printf("Warning: failed to record stats: %v", serr)
		}
		s.publish(event.TypeSyncError, event.SyncError{Kind: KindFullSync, Message: err.Error()})
		return nil, fmt.Errorf("pull phase failed: %w", err)
	}

	pushed, pushErrs := s.pushPhase(ctx)
	drained, drainErrs := s.drainQueue(ctx)

	res := &Result{
		Processed: pulled + pushed + drained,
		Errors:    pullErrs + pushErrs + drainErrs,
		Duration:  s.now().Sub(start),
	}
	if err := s.store.RecordStat(ctx, KindFullSync, res.Duration, res.Processed, res.Errors); err != nil {
		s.logger.Printf("Warning: failed to record stats: %v", err)
	}
	s.publish(event.TypeSyncCompleted, event.SyncCompleted{
		Kind: KindFullSync, Duration: res.Duration,
		Processed: res.Processed, Errors: res.Errors,
	})
	s.logger.Printf("Full sync complete: processed=%d errors=%d in %v",
		res.Processed, res.Errors, res.Duration.Round(time.Millisecond))
	return res, nil
}

// IncrementalSync services only tasks flagged dirty on either side, then
// drains the queue. The queue is drained even when nothing is dirty; it
// may hold previously-deferred work.
func (s *Syncer) IncrementalSync(ctx context.Context) (*Result, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	start := s.now()
	s.publish(event.TypeSyncStarted, event.SyncStarted{Kind: KindIncrementalSync})

	processed, errs := s.incrementalPush(ctx)
	p2, e2 := s.incrementalPull(ctx)
	processed += p2
	errs += e2

	drained, drainErrs := s.drainQueue(ctx)
	processed += drained
	errs += drainErrs

	res := &Result{
		Processed: processed,
		Errors:    errs,
		Duration:  s.now().Sub(start),
	}
	if err := s.store.RecordStat(ctx, KindIncrementalSync, res.Duration, res.Processed, res.Errors); err != nil {
		s.logger.Printf("Warning: failed to record stats: %v", err)
	}
	s.publish(event.TypeSyncCompleted, event.SyncCompleted{
		Kind: KindIncrementalSync, Duration: res.Duration,
		Processed: res.Processed, Errors: res.Errors,
	})
	return res, nil
}

// SyncIssueToLocal applies a single remote issue snapshot to the local
// store. Webhook deliveries land here.
func (s *Syncer) SyncIssueToLocal(ctx context.Context, issue *remote.Issue) error {
	if err := s.processIncoming(ctx, issue.View()); err != nil {
		return err
	}
	if err := s.store.RecordStat(ctx, KindWebhookSync, 0, 1, 0); err != nil {
		s.logger.Printf("Warning: failed to record stats: %v", err)
	}
	return nil
}

func (s *Syncer) publish(typ event.Type, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{Type: typ, Payload: payload})
}
