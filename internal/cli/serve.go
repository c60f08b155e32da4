package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"

	"github.com/devrev/tableview/internal/cache"
	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/health"
	"github.com/devrev/tableview/internal/metrics"
	"github.com/devrev/tableview/internal/server"
	"github.com/devrev/tableview/internal/service"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/util/workerpool"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the views of the configured tables over HTTP",
		Long: `Open every table listed in the configuration file, keep the views in sync
on a fixed interval and serve the query API, health probes and metrics.

The configuration path defaults to $CONFIG_PATH, then ./config.yaml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			if configPath == "" {
				configPath = "./config.yaml"
			}
			return runServe(cmd, rootOpts, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration file")
	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = buildLogger(cfg.Logging, opts.Verbose)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to initialize logger", err)
		}
		defer logger.Sync()
	}

	logger.Info("Configuration loaded",
		zap.String("path", configPath),
		zap.Int("tables", len(cfg.Tables)),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, cfg, logger)
}

// Serve runs the view service until ctx is done or a server fails
func Serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	details := cache.New(&cache.Config{
		MaxSize:         cfg.Cache.MaxSize,
		FrequencyWeight: cfg.Cache.FrequencyWeight,
		RecencyWeight:   cfg.Cache.RecencyWeight,
		AdaptiveWindow:  cfg.Cache.AdaptiveWindow,
	}, logger)

	pool := workerpool.NewWorkerPool(workerpool.Config{
		Name:       "sync",
		MaxWorkers: cfg.Sync.Workers,
		QueueSize:  cfg.Sync.QueueSize,
	}, logger)
	views := service.NewViewService(pool, m, details, logger)
	defer func() {
		if err := views.Stop(); err != nil {
			logger.Error("Failed to stop view service", zap.Error(err))
		}
	}()

	var disks []*diskmanager.DiskManager
	for _, tc := range cfg.Tables {
		opened, err := service.OpenTable(ctx, tc, service.OpenOptions{
			Details:            details,
			Observer:           m,
			ListingParallelism: cfg.Listing.Parallelism,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open table %s: %w", tc.Name, err)
		}
		if err := views.RegisterTable(opened); err != nil {
			opened.Close()
			return err
		}

		dm, err := diskmanager.NewDiskManager(diskmanager.DefaultConfig(tc.BasePath), logger)
		if err != nil {
			logger.Warn("Disk usage disabled for table", zap.String("table", tc.Name), zap.Error(err))
			continue
		}
		disks = append(disks, dm)
	}

	grpcHealth := grpchealth.NewServer()
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		Interval:     cfg.Health.Interval,
		MaxStaleness: cfg.Health.MaxStaleness,
		ProbeTimeout: cfg.Health.ProbeTimeout,
	}, views, grpcHealth, logger)
	go checker.Start(ctx)

	collector := server.NewMetricsCollector(&server.MetricsCollectorConfig{
		Pool:    pool,
		Details: details,
		Disks:   disks,
	}, m, logger)
	collector.Start()
	defer collector.Stop()

	views.Start(ctx, cfg.Sync.Interval)

	srv := server.NewServer(cfg, views, checker, grpcHealth, m, reg, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	checker.SetReadiness(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
