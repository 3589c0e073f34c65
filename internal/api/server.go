// Package api exposes the sync daemon to the desktop shell over localhost
// HTTP: enqueue while offline, inspect queue state, trigger manual drains.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helix-desktop/helix-sync/internal/gateway"
	"github.com/helix-desktop/helix-sync/internal/queue"
	"github.com/helix-desktop/helix-sync/internal/scheduler"
)

// DrainFunc triggers one queue drain.
type DrainFunc func(ctx context.Context) queue.Result

// Server is the HTTP API server
type Server struct {
	port       int
	q          *queue.Queue[json.RawMessage]
	drain      DrainFunc
	monitor    *gateway.Monitor
	sched      *scheduler.Scheduler
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server. monitor and sched may be nil when the
// daemon runs without a gateway watch or scheduled drains.
func NewServer(
	port int,
	q *queue.Queue[json.RawMessage],
	drain DrainFunc,
	monitor *gateway.Monitor,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) *Server {
	return &Server{
		port:    port,
		q:       q,
		drain:   drain,
		monitor: monitor,
		sched:   sched,
		logger:  logger.With("component", "api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/enqueue", s.handleEnqueue)
	mux.HandleFunc("/api/queue/next", s.handleNext)
	mux.HandleFunc("/api/queue/failed", s.handleFailed)
	mux.HandleFunc("/api/drain", s.handleDrain)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// statusResponse aggregates daemon state for the shell's status bar.
type statusResponse struct {
	Queue     queue.Status     `json:"queue"`
	Gateway   gateway.Status   `json:"gateway,omitempty"`
	Scheduler *scheduler.State `json:"scheduler,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{Queue: s.q.Status()}
	if s.monitor != nil {
		resp.Gateway = s.monitor.Status()
	}
	if s.sched != nil {
		st := s.sched.State()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		http.Error(w, "data is required", http.StatusBadRequest)
		return
	}

	var id string
	if req.Type == "" {
		id = s.q.QueueMessage(req.Data)
	} else {
		id = s.q.Enqueue(req.Type, req.Data)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	op, ok := s.q.NextOperation()
	if !ok {
		http.Error(w, "queue is empty", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.q.FailedOperations())
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.drain == nil {
		http.Error(w, "no transport configured", http.StatusConflict)
		return
	}

	res := s.drain(r.Context())
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
