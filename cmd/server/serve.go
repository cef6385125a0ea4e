package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/config"
	"ShardSearch/internal/coordinator"
	"ShardSearch/internal/metrics"
	"ShardSearch/internal/server"
	"ShardSearch/internal/shard"
	"ShardSearch/internal/workerpool"
)

// remoteTimeout bounds a single remote shard call when no query timeout is
// configured.
const remoteTimeout = 30 * time.Second

type serveFlags struct {
	configPath string
	port       int
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server with the configured collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = flags.port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = flags.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to YAML config file")
	cmd.Flags().IntVar(&flags.port, "port", 8080, "HTTP port (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mgr, pool, err := newManager(cfg, m, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error("closing collections", "error", err)
		}
	}()

	mux := http.NewServeMux()
	server.NewHandler(mgr, Version, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go mgr.RunHealthChecks(healthCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "version", Version, "collections", mgr.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newManager builds the shared worker pool and every configured collection.
func newManager(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*server.CollectionManager, *workerpool.Pool, error) {
	pool := workerpool.New(workerpool.Config{
		Workers:   cfg.Shard.Workers,
		QueueSize: cfg.Shard.QueueSize,
	}, logger)

	var clock budget.CPUClock = budget.SystemCPUClock()
	if cfg.Shard.CPUClock == "stepped" {
		clock = budget.SteppedCPUClock{Step: cfg.Shard.CPUStep}
	}
	if !clock.Supported() {
		logger.Warn("thread CPU time unavailable, cpuAllowed queries will be rejected")
	}

	mgr := server.NewCollectionManager(server.ManagerOptions{
		Coordinator: cfg.Coordinator,
		Scheduler: shard.SchedulerConfig{
			SegmentsPerTask: cfg.Shard.SegmentsPerTask,
			CheckInterval:   cfg.Shard.CheckInterval,
		},
		Pool:     pool,
		CPUClock: clock,
		Metrics:  m,
		Logger:   logger,
	})

	timeout := cfg.Coordinator.QueryTimeout
	if timeout <= 0 {
		timeout = remoteTimeout
	}

	for _, col := range cfg.Collections {
		var err error
		if len(col.Remote) > 0 {
			_, err = mgr.AddRemoteCollection(col.Name, remoteShards(col, timeout))
		} else {
			_, err = mgr.CreateCollection(col.Name, col.Shards, col.Replicas)
		}
		if err != nil {
			_ = mgr.Close()
			pool.Close()
			return nil, nil, err
		}
	}
	return mgr, pool, nil
}

func remoteShards(col config.CollectionConfig, timeout time.Duration) []coordinator.Shard {
	shards := make([]coordinator.Shard, len(col.Remote))
	for i, rs := range col.Remote {
		clients := make([]coordinator.ShardClient, len(rs.Replicas))
		for j, r := range rs.Replicas {
			clients[j] = coordinator.NewHTTPClient(r.Address, col.Name, rs.ID, r.Name, timeout)
		}
		shards[i] = coordinator.Shard{ID: rs.ID, Replicas: clients}
	}
	return shards
}

func newLogger(cfg config.LogConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
