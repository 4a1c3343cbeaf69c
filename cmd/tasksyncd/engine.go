package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tasksync-dev/tasksync/internal/config"
	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/optimizer"
	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/source"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/syncer"
)

// engine bundles everything a command needs to run sync work.
type engine struct {
	cfg     *config.Config
	store   *store.Store
	bus     *event.Bus
	syncer  *syncer.Syncer
	watcher *source.Watcher
	logger  *log.Logger
}

// newEngine opens the store and wires the sync stack from configuration.
func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "[tasksync] ")

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	client := remote.NewHTTPClient(remote.Options{
		BaseURL:           cfg.Remote.BaseURL,
		Repo:              cfg.Remote.Repo,
		Token:             cfg.Remote.Token,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Logger:            logger,
	})

	var scanner *source.Scanner
	var watcher *source.Watcher
	if cfg.SourceDir != "" {
		scanner = source.NewScanner(cfg.SourceDir, cfg.ProjectPath)
		watcher, err = source.NewWatcher(cfg.SourceDir, 0, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create source watcher: %w", err)
		}
	}

	bus := event.NewBus(64)
	sy := syncer.New(st, client, scanner, bus, syncer.Config{
		Label:        cfg.Remote.Label,
		PageSize:     cfg.Sync.PageSize,
		HourlyBudget: cfg.Remote.HourlyBudget,
		DrainBatch:   cfg.Sync.DrainBatch,
		MaxRetries:   cfg.Sync.MaxRetries,
		Optimizer: optimizer.Config{
			BatchSize:       cfg.Sync.BatchSize,
			ConcurrentLimit: cfg.Sync.ConcurrentLimit,
			CacheTTL:        cfg.Sync.CacheTTL,
			CacheCapacity:   cfg.Sync.CacheCapacity,
		},
		Logger: logger,
	})

	return &engine{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		syncer:  sy,
		watcher: watcher,
		logger:  logger,
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Printf("Warning: failed to close store: %v", err)
	}
}
