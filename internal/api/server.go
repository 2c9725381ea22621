// Package api exposes the reconciliation engine over HTTP/JSON.
package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/logging"
	"github.com/jask/loanrecon/internal/service"
)

// Server is the HTTP layer over an Engine.
type Server struct {
	Engine *service.Engine
	Logger *zap.Logger
}

// NewServer builds a Server. logger may be nil.
func NewServer(e *service.Engine, logger *zap.Logger) *Server {
	return &Server{Engine: e, Logger: logging.OrNop(logger)}
}

// Router returns the handler with every route registered.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)

	mux.HandleFunc("POST /api/reconcile/auto", s.autoReconcile)
	mux.HandleFunc("GET /api/reconcile/preview", s.preview)
	mux.HandleFunc("POST /api/reconcile/selected", s.reconcileSelected)

	mux.HandleFunc("GET /api/gl/missing", s.missingGL)
	mux.HandleFunc("POST /api/gl/regenerate", s.regenerateGL)

	mux.HandleFunc("GET /api/match-filters", s.matchFilters)
	return s.logRequests(mux)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", time.Since(start)))
	})
}
