// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/sasha9954/photostudio-core/internal/adapter"
	"github.com/sasha9954/photostudio-core/internal/job"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/types"
)

// Service interfaces for dependency injection and testing

// LedgerService defines the ledger operations the credit endpoints use
type LedgerService interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	List(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
	Credit(ctx context.Context, accountID string, amount int64, reason types.Reason, ref string) (int64, error)
	Debit(ctx context.Context, accountID string, amount int64, reason types.Reason, ref string) (int64, error)
}

// JobLauncher starts generation jobs
type JobLauncher interface {
	Launch(ctx context.Context, accountID, resourceKey string, spec adapter.AssetSpec) (*job.Launched, error)
}

// JobReader reads job records scoped to their owner
type JobReader interface {
	Get(ctx context.Context, accountID, jobID string) (*models.JobRecord, error)
}

// LockViewer exposes run lock state
type LockViewer interface {
	View(ctx context.Context, accountID, resourceKey string) (*models.RunState, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services bundles the server's collaborators
type Services struct {
	Ledger LedgerService
	Runner JobLauncher
	Jobs   JobReader
	Locks  LockViewer
	Health HealthChecker
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	ledger     LedgerService
	runner     JobLauncher
	jobs       JobReader
	locks      LockViewer
	health     HealthChecker
	validate   *validator.Validate
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per account
	Burst             int
	Debug             bool // adds a truncated internal cause to error responses
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services *Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		ledger:   services.Ledger,
		runner:   services.Runner,
		jobs:     services.Jobs,
		locks:    services.Locks,
		health:   services.Health,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)

	// order matters: logging first so recovered panics are logged with the request id
	s.router.Use(LoggingMiddleware)
	s.router.Use(s.RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.AccountMiddleware)
	api.Use(s.RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/credits/balance", s.handleGetBalance).Methods(http.MethodGet)
	api.HandleFunc("/credits/ledger", s.handleListLedger).Methods(http.MethodGet)
	api.HandleFunc("/credits/topup", s.handleTopup).Methods(http.MethodPost)
	api.HandleFunc("/credits/spend", s.handleSpend).Methods(http.MethodPost)

	api.HandleFunc("/jobs/{resourceKey}", s.handleStartJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/locks/{resourceKey}", s.handleGetLock).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("health check failed")
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]any{
		"ok":      code == http.StatusOK,
		"status":  status,
		"service": "photostudio-core",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Infof("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
