// Package api provides the operator HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// Store interfaces for dependency injection and testing

// JobStore defines the job queue operations the API exposes.
type JobStore interface {
	Enqueue(ctx context.Context, provider types.Provider, key types.SubjectKey, priority int) (*models.Job, bool, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.Job, error)
	GetByID(ctx context.Context, jobID string) (*models.Job, error)
	RetryFailed(ctx context.Context, jobID string) (*models.Job, error)
}

// OperationStore defines the operation queries the API exposes.
type OperationStore interface {
	ListTimedOut(ctx context.Context, limit int) ([]*models.Operation, error)
	GetByID(ctx context.Context, operationID string) (*models.Operation, error)
}

// BudgetReporter reports per-provider budget window usage.
type BudgetReporter interface {
	Usage(ctx context.Context, provider types.Provider) (*models.BudgetWindow, error)
}

// PriceStore defines the aggregate price queries the API exposes.
type PriceStore interface {
	ListByProduct(ctx context.Context, provider types.Provider, productID string) ([]*models.LatestPrice, error)
}

// Server represents the operator HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobStore
	operations OperationStore
	budgets    BudgetReporter
	prices     PriceStore
	providers  []types.Provider
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new operator API server instance.
func NewServer(
	config *ServerConfig,
	jobs JobStore,
	operations OperationStore,
	budgets BudgetReporter,
	prices PriceStore,
	providers []types.Provider,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		jobs:       jobs,
		operations: operations,
		budgets:    budgets,
		prices:     prices,
		providers:  providers,
		logger:     logger,
		config:     config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", s.handleEnqueueJob).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/retry", s.handleRetryJob).Methods("POST")

	// Operation endpoints
	api.HandleFunc("/operations/timed-out", s.handleListTimedOutOperations).Methods("GET")
	api.HandleFunc("/operations/{id}", s.handleGetOperation).Methods("GET")

	// Budget endpoints
	api.HandleFunc("/budgets", s.handleListBudgets).Methods("GET")

	// Aggregate price endpoints
	api.HandleFunc("/prices/{provider}/{productId}", s.handleListPrices).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "market-sync",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
