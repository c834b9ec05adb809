// Package api exposes a lightweight HTTP status surface for the sync daemon:
// health, Prometheus metrics and read/retry access to the operation queue.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/export"
	"fieldsync/internal/netmon"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves the daemon's HTTP API.
type Server struct {
	cfg      config.APIConfig
	queue    *queue.OperationQueue
	coord    *syncer.Coordinator
	monitor  *netmon.Monitor
	exporter *export.Exporter
	logger   *zerolog.Logger
	server   *http.Server
	auth     *Auth
}

func NewServer(
	cfg config.APIConfig,
	q *queue.OperationQueue,
	coord *syncer.Coordinator,
	monitor *netmon.Monitor,
	exporter *export.Exporter,
	logger *zerolog.Logger,
) *Server {
	mux := http.NewServeMux()
	srv := &Server{
		cfg:      cfg,
		queue:    q,
		coord:    coord,
		monitor:  monitor,
		exporter: exporter,
		logger:   logger,
	}
	srv.auth = NewAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/queue/failed", srv.handleQueueFailed)
	mux.HandleFunc("/api/v1/queue/retry", srv.handleQueueRetry)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/exports/failed", srv.handleExportFailed)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"online":      s.monitor.Online(),
		"queue_depth": s.queue.Len(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.queue.All()})
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.queue.Failed()})
}

// handleQueueRetry resets failed operations to pending. With an id in the
// body only that operation is reset; without one, every failed operation.
func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		ID string `json:"id"`
	}
	var body request
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if id := strings.TrimSpace(body.ID); id != "" {
		if !s.queue.Retry(r.Context(), id) {
			writeError(w, http.StatusNotFound, "operation not found or not retryable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"retried": 1})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"retried": s.queue.RetryAll(r.Context())})
}

// handleSync kicks a processing pass. The pass runs in the background; an
// already running pass makes this a no-op.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.monitor.Online() {
		writeError(w, http.StatusConflict, "device is offline")
		return
	}
	go s.coord.ProcessQueue(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// handleExportFailed writes an Excel report of terminally failed operations
// and returns its path.
func (s *Server) handleExportFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	failed := s.queue.Failed()
	path, err := s.exporter.FailedOperations(failed)
	if err != nil {
		s.logger.Error().Err(err).Msg("export failed operations")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": path, "operations": len(failed)})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
