// Package server exposes the sync engine over HTTP: a health probe, a
// manual sync trigger, a tracker webhook receiver, and a WebSocket feed of
// sync events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/syncer"
)

// Server is the HTTP front door for a running sync daemon.
type Server struct {
	syncer        *syncer.Syncer
	bus           *event.Bus
	webhookSecret string
	logger        *log.Logger

	httpSrv *http.Server
}

// Options configures a Server.
type Options struct {
	Listen string
	// WebhookSecret verifies tracker webhook signatures. Empty disables
	// the webhook endpoint.
	WebhookSecret string
	Logger        *log.Logger
}

// New builds a Server around a syncer and its event bus.
func New(s *syncer.Syncer, bus *event.Bus, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	srv := &Server{
		syncer:        s,
		bus:           bus,
		webhookSecret: opts.WebhookSecret,
		logger:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/sync", srv.handleSync)
	mux.HandleFunc("/webhook", srv.handleWebhook)
	mux.HandleFunc("/ws", srv.handleWS)

	srv.httpSrv = &http.Server{
		Addr:         opts.Listen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
	}
	return srv
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"syncing": s.syncer.Syncing(),
		"budget":  s.syncer.Budget().Remaining(),
	})
}

// handleSync triggers an asynchronous pass. ?full=true forces a full pass.
// A pass already in flight yields 409.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.syncer.Syncing() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in progress"})
		return
	}

	full := r.URL.Query().Get("full") == "true"
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		var err error
		if full {
			_, err = s.syncer.FullSync(ctx)
		} else {
			_, err = s.syncer.IncrementalSync(ctx)
		}
		if err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
			s.logger.Printf("Warning: triggered sync failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleWS streams sync events to the client as JSON frames until the
// client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.bus.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Client gone; nothing useful to do.
		_ = err
	}
}
