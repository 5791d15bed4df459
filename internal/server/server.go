package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ziadkadry99/sitecache/internal/audit"
	"github.com/ziadkadry99/sitecache/internal/metrics"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

// AdminPrefix is the path under which the worker's own API is mounted.
const AdminPrefix = "/_sitecache"

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins on the admin API (dev mode)
}

// Server fronts the site: every request goes through the worker first and
// falls back to a reverse proxy to the upstream origin.
type Server struct {
	cfg        Config
	worker     *worker.Worker
	metrics    *metrics.Metrics
	audit      *audit.Store
	proxy      *httputil.ReverseProxy
	router     chi.Router
	httpServer *http.Server
}

// Option configures optional server features.
type Option func(*Server)

// WithAudit exposes the audit trail on the admin API and records manual purges.
func WithAudit(store *audit.Store) Option {
	return func(s *Server) { s.audit = store }
}

// New creates a server for the given worker. m may be nil.
func New(cfg Config, w *worker.Worker, m *metrics.Metrics, opts ...Option) (*Server, error) {
	upstream, err := url.Parse(w.Config().Upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		worker:  w,
		metrics: m,
		proxy:   newProxy(upstream),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// newProxy performs the default handling for requests the worker does not
// intercept.
func newProxy(upstream *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("sitecache: proxy %s %s: %v", r.Method, r.URL, err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Use(cors.Handler(corsOpts))
		registerAdminRoutes(r, s.worker, s.audit)
		if s.audit != nil {
			audit.RegisterRoutes(r, s.audit)
		}
	})

	// Everything else is the site itself.
	r.Handle("/*", http.HandlerFunc(s.serveSite))

	return r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	log.Printf("sitecache listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for in-flight background
// cache writes.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.worker.Drain(ctx)
}

// Run serves until ctx is done and then shuts down. It returns only once
// Shutdown has finished, so callers may close the cache store afterwards.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Start() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Printf("sitecache: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)

	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
