// Package httpapi is the HTTP ingress for the Health Service's three
// views and the Prometheus metrics export (spec §6), built the way the
// teacher builds its chi router: request-id/real-ip middleware, a
// structured request logger, and rs/cors.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"browsercontrol/internal/eventstream"
	"browsercontrol/internal/health"
	"browsercontrol/internal/logging"
)

// Server wraps the chi router serving /health/*, /metrics, and /events.
type Server struct {
	router *chi.Mux
	health *health.Service
	events *eventstream.Hub
}

// NewServer builds the HTTP surface. events may be nil, in which case
// /events responds 404 rather than upgrading a connection no publisher
// will ever feed.
func NewServer(h *health.Service, events *eventstream.Hub) *Server {
	s := &Server{health: h, events: events, router: chi.NewRouter()}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler)

	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/health/startup", s.handleStartup)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/events", s.handleEvents)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeView(w http.ResponseWriter, view health.View) {
	status := http.StatusOK
	if view.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(view)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeView(w, s.health.Liveness(r.Context()))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeView(w, s.health.Readiness(r.Context()))
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	writeView(w, s.health.Startup(r.Context()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write(s.health.MetricsText())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	s.events.ServeHTTP(w, r)
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
