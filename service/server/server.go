package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seqmarket/genomeledger/service/config"
	"github.com/seqmarket/genomeledger/service/db"
	"github.com/seqmarket/genomeledger/service/metrics"
	natspkg "github.com/seqmarket/genomeledger/service/nats"
	"github.com/seqmarket/genomeledger/service/temporal"
)

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	scheduler    temporal.Scheduler
	publisher    natspkg.Publisher
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to keep the expiry sweep schedule registered.
// The publisher is optional - if nil, lifecycle events won't be published.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, scheduler temporal.Scheduler, publisher natspkg.Publisher, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		scheduler:    scheduler,
		publisher:    publisher,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Ensure the expiry sweep schedule exists so offers with a validity
	// window actually get cancelled.
	if err := s.ensureExpiryScheduleRegistered(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure expiry schedule registered: %w", err)
	}

	mux := http.NewServeMux()

	// Genome registry routes
	mux.Handle("POST /api/v1/genomes", s.instrument("register_genome",
		handleRegisterGenome(s.store, s.publisher, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/genomes/{id}", s.instrument("get_genome",
		handleGetGenome(s.store, s.logger)))
	mux.Handle("GET /api/v1/genomes", s.instrument("list_genomes",
		handleListGenomes(s.store, s.logger)))
	mux.Handle("DELETE /api/v1/genomes/{id}", s.instrument("delete_genome",
		handleDeleteGenome(s.store, s.publisher, s.metrics, s.logger)))

	// Transaction routes
	mux.Handle("POST /api/v1/transactions", s.instrument("create_transaction",
		handleCreateTransaction(s.store, s.publisher, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/transactions/{id}", s.instrument("get_transaction",
		handleGetTransaction(s.store, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.instrument("list_transactions",
		handleListTransactions(s.store, s.logger)))
	mux.Handle("POST /api/v1/transactions/{id}/execute", s.instrument("execute_transaction",
		handleExecuteTransaction(s.store, s.publisher, s.metrics, s.logger)))
	mux.Handle("POST /api/v1/transactions/{id}/cancel", s.instrument("cancel_transaction",
		handleCancelTransaction(s.store, s.publisher, s.metrics, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/transactions/{genome_id}", handleStreamTransactions(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transactions", handleStreamTransactions(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// instrument wraps a handler with HTTP metrics when a collector is configured.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// ensureExpiryScheduleRegistered creates or updates the expiry sweep schedule
// at startup so the configured interval takes effect without manual steps.
func (s *Server) ensureExpiryScheduleRegistered(ctx context.Context) error {
	if s.scheduler == nil {
		s.logger.Warn("no scheduler configured, offers with a validity window will not be expired")
		return nil
	}

	if !s.cfg.EnforceOfferExpiry {
		s.logger.Info("offer expiry disabled by policy, skipping sweep schedule registration")
		return nil
	}

	interval := s.cfg.ExpirySweepInterval
	if err := s.scheduler.EnsureExpirySchedule(ctx, interval); err != nil {
		return fmt.Errorf("failed to ensure expiry schedule: %w", err)
	}

	s.logger.Info("expiry sweep schedule registered",
		"schedule_id", temporal.ExpiryScheduleID,
		"interval", interval,
	)
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
