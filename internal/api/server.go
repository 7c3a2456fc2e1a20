// Package api provides the local HTTP status and control API served by the daemon.
//
// Routes:
//
//	GET  /api/health       liveness and connectivity
//	GET  /api/sync/status  scheduler state and pending counts
//	POST /api/sync         sync every entity, or one with ?entity=
//	GET  /api/pending      pending counts, or records with ?entity=
//	GET  /ws               event stream (WebSocket)
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/repository"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/sync/scheduler"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "fieldsync"

// Scheduler is the part of the sync scheduler the API drives.
type Scheduler interface {
	GetStatus() scheduler.SchedulerStatus
	SyncNow(ctx context.Context) error
	SyncEntity(ctx context.Context, entity string) error
}

// Registry is the part of the repository registry the API reads.
type Registry interface {
	PendingCounts(ctx context.Context) (map[string]int, error)
	Handle(entity string) (repository.Handle, bool)
}

// Config holds the server collaborators.
type Config struct {
	Listen    string
	Version   string
	Scheduler Scheduler
	Registry  Registry
	Oracle    connectivity.Oracle
	// Events serves /ws. Nil disables the route.
	Events http.Handler
}

// Server is the local API server.
type Server struct {
	cfg  Config
	mux  *http.ServeMux
	http *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Oracle == nil {
		cfg.Oracle = connectivity.Static(true)
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/sync/status", s.handleStatus)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/pending", s.handlePending)
	if cfg.Events != nil {
		s.mux.Handle("/ws", cfg.Events)
	}

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	logging.Info("Local API listening", map[string]interface{}{"addr": ln.Addr().String()})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// =====================================================
// Handlers
// =====================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": ServiceName,
		"version": s.cfg.Version,
		"online":  s.cfg.Oracle.IsAvailable(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	counts, err := s.cfg.Registry.PendingCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": s.cfg.Scheduler.GetStatus(),
		"pending":   counts,
	})
}

// handleSync runs a forced sync and waits for it to finish.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	entity := r.URL.Query().Get("entity")
	var err error
	if entity != "" {
		err = s.cfg.Scheduler.SyncEntity(r.Context(), entity)
	} else {
		err = s.cfg.Scheduler.SyncNow(r.Context())
	}
	if err != nil {
		logging.Warn("Sync request failed", map[string]interface{}{
			"entity": entity,
			"code":   string(apperrors.CodeOf(err)),
			"error":  err.Error(),
		})
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"scheduler": s.cfg.Scheduler.GetStatus(),
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	if entity := r.URL.Query().Get("entity"); entity != "" {
		h, ok := s.cfg.Registry.Handle(entity)
		if !ok {
			writeError(w, apperrors.New(apperrors.ErrNotFound, "unknown entity "+entity))
			return
		}
		recs, err := h.PendingRecords(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entity":  entity,
			"count":   len(recs),
			"records": recs,
		})
		return
	}

	counts, err := s.cfg.Registry.PendingCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": counts,
		"total":   total,
	})
}

// =====================================================
// Helpers
// =====================================================

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error": "method not allowed",
		"code":  string(apperrors.ErrInvalid),
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps an error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case code == apperrors.ErrNotFound:
		status = http.StatusNotFound
	case code == apperrors.ErrInvalid || code == apperrors.ErrValidation:
		status = http.StatusBadRequest
	case code == apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded) || code == apperrors.ErrTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.IsRemote(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}
