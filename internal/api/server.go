package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/metrics"
	"github.com/JakeFAU/edition-fetcher/internal/orchestrator"
)

// Runner executes one delivery run.
type Runner interface {
	Run(ctx context.Context, filter domain.Recurrence) (orchestrator.Summary, error)
}

// Entries reads today's ledger; ledger.Ledger satisfies it.
type Entries interface {
	EntriesDueForDelivery(ctx context.Context, includeAllRelevant bool) ([]*domain.Entry, error)
	Today(ctx context.Context) ([]domain.Entry, error)
}

// Config controls the server middleware.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the run trigger and the ledger.
type Server struct {
	router  chi.Router
	runner  Runner
	entries Entries
	logger  *zap.Logger

	runMu   sync.Mutex
	lastMu  sync.RWMutex
	last    *runState
	runs    sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

type runState struct {
	Recurrence domain.Recurrence     `json:"recurrence"`
	Running    bool                  `json:"running"`
	Summary    *orchestrator.Summary `json:"summary,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, entries Entries, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		entries: entries,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/entries", s.listEntries)
		r.Post("/runs", s.triggerRun)
		r.Get("/runs/last", s.lastRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels a run in progress and waits for it to record its outcomes.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.entries.Today(r.Context()); err != nil {
		s.logger.Warn("ledger not ready", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		rows []domain.Entry
		err  error
	)
	if q.Get("all") == "true" {
		rows, err = s.entries.Today(r.Context())
	} else {
		var due []*domain.Entry
		due, err = s.entries.EntriesDueForDelivery(r.Context(), true)
		for _, e := range due {
			rows = append(rows, *e)
		}
	}
	if err != nil {
		s.logger.Error("list entries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	if raw := q.Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filtered := rows[:0]
		for _, e := range rows {
			if e.Status == status {
				filtered = append(filtered, e)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows, "count": len(rows)})
}

type runRequest struct {
	Recurrence string `json:"recurrence"`
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	filter, err := domain.ParseRecurrenceFilter(req.Recurrence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	s.setLast(&runState{Recurrence: filter, Running: true})
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		sum, err := s.runner.Run(s.baseCtx, filter)
		s.runMu.Unlock()
		state := &runState{Recurrence: filter, Summary: &sum}
		if err != nil {
			s.logger.Error("triggered run failed", zap.Error(err))
			state.Error = err.Error()
		}
		s.setLast(state)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "recurrence": string(filter)})
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	s.lastMu.RLock()
	last := s.last
	s.lastMu.RUnlock()
	if last == nil {
		writeError(w, http.StatusNotFound, "no run triggered yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) setLast(state *runState) {
	s.lastMu.Lock()
	s.last = state
	s.lastMu.Unlock()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
