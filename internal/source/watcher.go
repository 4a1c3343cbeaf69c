package source

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the source directory and signals, debounced, when
// transcripts change. The daemon uses the signal to nudge an incremental
// sync instead of waiting for the next interval tick.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *log.Logger

	fsw     *fsnotify.Watcher
	changes chan struct{}

	mu      sync.Mutex
	pending bool
	lastHit time.Time

	wg sync.WaitGroup
}

// NewWatcher creates a watcher for *.jsonl changes under dir.
func NewWatcher(dir string, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[source] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		changes:  make(chan struct{}, 1),
	}, nil
}

// Changes delivers one signal per debounced burst of transcript edits.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Start begins watching. It returns immediately; watching stops when ctx
// is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Printf("Watching %s", w.dir)

	w.wg.Add(2)
	go w.watchLoop(ctx)
	go w.flushLoop(ctx)
	return nil
}

// Stop closes the watcher and waits for its goroutines.
func (w *Watcher) Stop() {
	_ = w.fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".jsonl" {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastHit = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

// flushLoop emits a change signal once events quiet down for the debounce
// interval, batching rapid transcript appends into one nudge.
func (w *Watcher) flushLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			ready := w.pending && time.Since(w.lastHit) >= w.debounce
			if ready {
				w.pending = false
			}
			w.mu.Unlock()

			if ready {
				select {
				case w.changes <- struct{}{}:
				default:
				}
			}
		}
	}
}
