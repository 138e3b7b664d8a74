// Package api exposes the manager over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/manager"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

// Service is the set of manager operations the HTTP layer calls.
type Service interface {
	Health() manager.Health
	Status() models.SessionState
	Initialize(ctx context.Context, headless bool) (models.SessionState, error)
	CheckLogin(ctx context.Context) (models.LoginResult, error)
	FetchVIX(ctx context.Context) (manager.VIXReading, error)
	Create(ctx context.Context, symbol string) (models.Position, error)
	List() []models.Position
	Close(id string) (models.Position, error)
	CreateDemo(ctx context.Context) ([]models.Position, error)
	History() []models.Position
	Statistics() storage.Statistics
	ResetAll()
}

// Ensure the manager satisfies Service at compile time.
var _ Service = (*manager.Manager)(nil)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = ":5000"

// Config holds listener and CORS settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	router  *chi.Mux
	handler http.Handler
	server  *http.Server
	service Service
	logger  *logrus.Logger
	addr    string
	now     func() time.Time
}

// NewServer builds the router and CORS wrapper.
func NewServer(cfg Config, service Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router:  chi.NewRouter(),
		service: service,
		logger:  logger,
		addr:    cfg.Addr,
		now:     time.Now,
	}
	s.setupRoutes(cfg.RequestTimeout)

	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-Id"}),
	)
	s.handler = cors(s.router)
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(timeout time.Duration) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/webull/status", s.handleStatus)
		r.Post("/webull/initialize", s.handleInitialize)
		r.Post("/webull/login-test", s.handleLoginTest)

		r.Get("/market/vix", s.handleVIX)

		r.Get("/positions/iron-condor", s.handleListPositions)
		r.Post("/positions/iron-condor", s.handleCreatePosition)
		r.Delete("/positions/iron-condor/{id}", s.handleClosePosition)
		r.Get("/positions/history", s.handleHistory)
		r.Get("/stats", s.handleStats)

		r.Post("/testing/demo-data", s.handleDemoData)
		r.Post("/testing/reset", s.handleReset)
	})
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// A Start that has not begun listening yet returns http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotInitialized), errors.Is(err, manager.ErrBrokerNotConnected):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
