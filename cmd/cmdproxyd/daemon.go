package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/cmdproxy/internal/audit"
	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/broker"
	"github.com/oriys/cmdproxy/internal/cmdproxyserver"
	"github.com/oriys/cmdproxy/internal/config"
	"github.com/oriys/cmdproxy/internal/health"
	"github.com/oriys/cmdproxy/internal/launcher"
	"github.com/oriys/cmdproxy/internal/logging"
	"github.com/oriys/cmdproxy/internal/metrics"
	"github.com/oriys/cmdproxy/internal/palette"
	"github.com/oriys/cmdproxy/internal/tracing"
)

func daemonCmd() *cobra.Command {
	var (
		redisURL   string
		scratchDir string
		logLevel   string
		grpcAddr   string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the cmdproxy worker daemon",
		Long:  "Consume RunRequests from the broker's palette-derived queues and execute them locally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("redis-url") {
				cfg.Broker.RedisURL = redisURL
			}
			if cmd.Flags().Changed("scratch-dir") {
				cfg.Daemon.ScratchDir = scratchDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
				cfg.Observability.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("grpc") {
				cfg.GRPC.Addr = grpcAddr
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownTracing(context.Background())

			p, err := palette.Load(cfg.Palette.CommandPaletteFile)
			if err != nil {
				return fmt.Errorf("load command palette: %w", err)
			}
			if err := palette.LoadEnvironments(cfg.Palette.EnvironmentsFile); err != nil {
				return fmt.Errorf("load environments: %w", err)
			}

			b, err := broker.NewRedisBroker(cfg.Broker.RedisURL, cfg.Broker.ResultTTL, cfg.Broker.WaitPollTick)
			if err != nil {
				return fmt.Errorf("connect broker: %w", err)
			}
			defer b.Close()

			store, err := blobstore.NewS3Store(context.Background(), blobstore.S3Config{
				Bucket:         cfg.BlobStore.Bucket,
				Region:         cfg.BlobStore.Region,
				Endpoint:       cfg.BlobStore.Endpoint,
				ForcePathStyle: cfg.BlobStore.ForcePathStyle,
			})
			if err != nil {
				return fmt.Errorf("connect blob store: %w", err)
			}

			if err := os.MkdirAll(cfg.Daemon.ScratchDir, 0755); err != nil {
				return fmt.Errorf("create scratch dir: %w", err)
			}

			srv := &cmdproxyserver.Server{
				Broker:         b,
				Store:          store,
				Palette:        p,
				ScratchBaseDir: cfg.Daemon.ScratchDir,
				Launcher:       launcher.New(),
				RunLogger:      logging.DefaultRunLogger(),
			}

			if cfg.Observability.Logging.RunLogFile != "" {
				if err := srv.RunLogger.SetOutput(cfg.Observability.Logging.RunLogFile); err != nil {
					logging.Op().Warn("failed to open run log file", "error", err)
				}
			}

			if cfg.Audit.DSN != "" {
				auditLog, err := audit.Open(context.Background(), cfg.Audit.DSN)
				if err != nil {
					logging.Op().Warn("failed to open audit log", "error", err)
				} else {
					srv.Audit = auditLog
					defer auditLog.Close()
				}
			}

			var metricsSrv *http.Server
			if cfg.Observability.Metrics.Enabled {
				m := metrics.New(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
				srv.Metrics = m

				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				metricsSrv = &http.Server{Addr: cfg.Observability.Metrics.Addr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server failed", "error", err)
					}
				}()
				logging.Op().Info("metrics server started", "addr", cfg.Observability.Metrics.Addr)
			}

			var healthSrv *health.Server
			if cfg.GRPC.Enabled {
				healthSrv = health.New()
				go func() {
					if err := healthSrv.Serve(cfg.GRPC.Addr); err != nil {
						logging.Op().Error("health server failed", "error", err)
					}
				}()
				logging.Op().Info("health server started", "addr", cfg.GRPC.Addr)
			}

			queues := make([]string, 0, len(p)+len(cfg.Palette.ExtQueues))
			for name := range p {
				queues = append(queues, name)
			}
			queues = append(queues, cfg.Palette.ExtQueues...)

			ctx, cancel := context.WithCancel(context.Background())
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Serve(ctx, queues)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigCh:
				logging.Op().Info("shutdown signal received")
			case err := <-serveErr:
				if err != nil {
					logging.Op().Error("serve failed", "error", err)
				}
			}

			if healthSrv != nil {
				healthSrv.SetNotServing()
				healthSrv.Stop(context.Background())
			}
			cancel()
			if metricsSrv != nil {
				metricsSrv.Shutdown(context.Background())
			}
			srv.RunLogger.Close()

			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis-url", "", "broker URL (overrides config)")
	cmd.Flags().StringVar(&scratchDir, "scratch-dir", "", "per-request scratch directory root (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC health-check listen address (overrides config)")

	return cmd
}
