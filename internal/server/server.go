// Package server exposes the table views over HTTP and the gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/health"
	"github.com/devrev/tableview/internal/metrics"
	"github.com/devrev/tableview/internal/service"
)

// Server hosts the HTTP query API and the gRPC health service
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	grpcServer *grpc.Server
	handlers   *Handlers
	health     *health.HealthChecker
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	cfg        *config.Config
}

// NewServer creates the server. m and gatherer may be nil to disable /metrics.
func NewServer(
	cfg *config.Config,
	views *service.ViewService,
	checker *health.HealthChecker,
	grpcHealth *grpchealth.Server,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	grpcServer := grpc.NewServer()
	if grpcHealth != nil {
		healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	}

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		grpcServer: grpcServer,
		handlers:   NewHandlers(views, cfg.Server.WriteTimeout, logger),
		health:     checker,
		metrics:    m,
		gatherer:   gatherer,
		logger:     logger,
		cfg:        cfg,
	}
	s.SetupRoutes()
	return s
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() {
	s.router.Use(Recovery(s.logger), RequestID, Logging(s.logger, s.metrics))

	if s.health != nil {
		s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	}
	if s.gatherer != nil && s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	tables := s.router.PathPrefix("/v1/tables/{table}").Subrouter()
	tables.HandleFunc("/last-instant", s.handlers.LastInstant).Methods(http.MethodGet).Name("last-instant")
	tables.HandleFunc("/partitions", s.handlers.Partitions).Methods(http.MethodGet).Name("partitions")
	tables.HandleFunc("/partitions/{partition:.+}/latest-slices", s.handlers.LatestSlices).Methods(http.MethodGet).Name("latest-slices")
	tables.HandleFunc("/partitions/{partition:.+}/all-slices", s.handlers.AllSlices).Methods(http.MethodGet).Name("all-slices")
	tables.HandleFunc("/partitions/{partition:.+}/file-groups", s.handlers.FileGroups).Methods(http.MethodGet).Name("file-groups")
	tables.HandleFunc("/partitions/{partition:.+}/merged-slices", s.handlers.MergedSlices).Methods(http.MethodGet).Name("merged-slices")
	tables.HandleFunc("/pending/compactions", s.handlers.PendingCompactions).Methods(http.MethodGet).Name("pending-compactions")
	tables.HandleFunc("/pending/log-compactions", s.handlers.PendingLogCompactions).Methods(http.MethodGet).Name("pending-log-compactions")
	tables.HandleFunc("/pending/clustering", s.handlers.PendingClustering).Methods(http.MethodGet).Name("pending-clustering")
	tables.HandleFunc("/sync", s.handlers.Sync).Methods(http.MethodPost).Name("sync")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Status:    "error",
			ErrorCode: "NOT_FOUND",
			Message:   "endpoint not found",
			RequestID: r.Header.Get("X-Request-ID"),
		})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Status:    "error",
			ErrorCode: "INVALID_ARGUMENT",
			Message:   "method not allowed",
			RequestID: r.Header.Get("X-Request-ID"),
		})
	})
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP and gRPC servers until one fails or Shutdown is called
func (s *Server) Serve() error {
	grpcAddr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("Starting gRPC health server", zap.String("addr", grpcAddr))
		errCh <- s.grpcServer.Serve(listener)
	}()
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()
	return <-errCh
}

// Shutdown gracefully stops both servers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down servers")
	s.grpcServer.GracefulStop()
	return s.httpServer.Shutdown(ctx)
}
