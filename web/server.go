package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"f0oster/permspy/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotInfo reports when the canonical snapshot was last written.
// *versioning.Store satisfies it.
type SnapshotInfo interface {
	LastModified() (time.Time, bool)
}

// Server exposes the monitor status and the pending update notification.
type Server struct {
	store      SnapshotInfo
	channel    notify.Channel
	router     chi.Router
	addr       string
	logger     *slog.Logger
	now        func() time.Time
	metrics    http.Handler
	httpServer *http.Server
}

type Option func(*Server)

// WithMetrics serves the collectors of g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new status server instance.
func NewServer(store SnapshotInfo, ch notify.Channel, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:   store,
		channel: ch,
		router:  chi.NewRouter(),
		addr:    addr,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/update-notification", s.handleUpdateNotification)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Start listens until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting status server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}
