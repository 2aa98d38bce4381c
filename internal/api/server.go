package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/config"
	"github.com/appsight/aso-pipeline/internal/metrics"
	"github.com/appsight/aso-pipeline/internal/pipeline"
)

// Runner starts enrichment runs; satisfied by pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, raw string) <-chan pipeline.Checkpoint
}

// Server wires HTTP handlers to the pipeline orchestrator.
type Server struct {
	router chi.Router
	runner Runner
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	reqTimeout := cfg.RequestTimeout()
	if reqTimeout <= 0 {
		reqTimeout = 120 * time.Second
	}
	// chi's Timeout cancels the request context instead of buffering the
	// response, which keeps SSE flushing intact.
	r.Use(chimiddleware.Timeout(reqTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/apps/{handle}", func(r chi.Router) {
			r.Get("/keywords", s.getKeywords)
			r.Get("/keywords/stream", s.streamKeywords)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

// getKeywords runs the full pipeline and responds once with the final run.
func (s *Server) getKeywords(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	var final pipeline.Checkpoint
	for cp := range s.runner.Run(r.Context(), handle) {
		final = cp
	}
	if final.Run == nil {
		writeError(w, http.StatusInternalServerError, "pipeline produced no result", s.logger)
		return
	}
	if final.Stage == pipeline.StageFailed {
		writeError(w, aso.KindOf(final.Err).HTTPStatus(), errorMessage(final.Err), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": final.Run}, s.logger)
}

// streamKeywords forwards each checkpoint as a server-sent event named after
// its stage. The stream always terminates with complete or failed.
func (s *Server) streamKeywords(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", s.logger)
		return
	}
	handle := chi.URLParam(r, "handle")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for cp := range s.runner.Run(r.Context(), handle) {
		if err := writeEvent(w, cp); err != nil {
			s.logger.Warn("sse write failed", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, cp pipeline.Checkpoint) error {
	payload := map[string]any{"run": cp.Run}
	if cp.Stage == pipeline.StageFailed {
		payload["error"] = errorMessage(cp.Err)
		payload["status"] = aso.KindOf(cp.Err).HTTPStatus()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(cp.Stage) + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

func errorMessage(err error) string {
	if err == nil {
		return "pipeline run failed"
	}
	return err.Error()
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error", s.logger)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
