package invoice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const defaultMaxUploadBytes = 50 << 20

// ServerOptions configures the HTTP API
type ServerOptions struct {
	// Version is reported by the health endpoint
	Version string
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
	// MaxUploadBytes bounds request bodies on the extraction and write endpoints
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server handles HTTP requests for invoices
type Server struct {
	service   *Service
	router    chi.Router
	version   string
	maxUpload int64
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// NewServer creates a new Server with its routes registered
func NewServer(service *Service, opts ServerOptions) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		service:   service,
		router:    chi.NewRouter(),
		version:   opts.Version,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
		now:       time.Now,
	}
	s.registerRoutes(opts.AllowedOrigins)
	return s
}

func (s *Server) registerRoutes(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/extract-invoice", s.handleExtractInvoice)

		r.Get("/invoices", s.handleListInvoices)
		r.Post("/invoices", s.handleCreateInvoice)
		r.Get("/invoices/export", s.handleExportInvoices)
		r.Get("/invoices/{id}", s.handleGetInvoice)
		r.Put("/invoices/{id}", s.handleUpdateInvoice)
		r.Delete("/invoices/{id}", s.handleDeleteInvoice)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Route not found", nil)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
}

// logRequests logs one line per request once it has been served
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
