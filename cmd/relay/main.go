package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/oneshot/internal/actor"
	"github.com/zynqcloud/oneshot/internal/config"
	"github.com/zynqcloud/oneshot/internal/relay"
	"github.com/zynqcloud/oneshot/internal/signalutil"
	"github.com/zynqcloud/oneshot/internal/store"
)

var version = "dev"

func main() {
	cfg := config.LoadRelay()

	root := &cobra.Command{
		Use:     "relay",
		Short:   "One-shot file relay: upload a blob, get a URL, first download destroys it.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	// Flags default from the environment-resolved config, so UD_* env vars
	// and flags both work and flags win when both are set.
	flags := root.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "required upload API key (empty disables the check)")
	flags.StringVar(&cfg.BasePath, "base-path", cfg.BasePath, "URL path prefix")
	flags.Int64Var(&cfg.MaxMB, "max-mb", cfg.MaxMB, "maximum upload size in MB")
	flags.Int64Var(&cfg.RateLimitSec, "rate-limit-sec", cfg.RateLimitSec, "per-IP minimum seconds between uploads (<=0 disables)")
	flags.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "maximum ready-but-unclaimed tokens (<=0 disables)")
	flags.Int64Var(&cfg.TTLSec, "ttl-sec", cfg.TTLSec, "token time-to-live in seconds (<=0 disables)")
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "durable state database directory")
	flags.StringVar(&cfg.StoreBackend, "store-backend", cfg.StoreBackend, "blob store backend: local or s3")
	flags.StringVar(&cfg.LocalRoot, "local-root", cfg.LocalRoot, "local blob store root (store-backend=local)")
	flags.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket name (store-backend=s3)")
	flags.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region (store-backend=s3)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "separate listen address for /metrics (empty disables)")

	ctx, stop := signal.NotifyContext(context.Background(), signalutil.ShutdownSignals...)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		slog.Error("relay exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Relay) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	act, err := actor.Open(cfg.StateDir, actor.Config{
		APIKey:       cfg.APIKey,
		RateLimitSec: cfg.RateLimitSec,
		MaxPending:   cfg.MaxPending,
		TTLSec:       cfg.TTLSec,
	})
	if err != nil {
		return fmt.Errorf("open state actor: %w", err)
	}
	defer act.Close()

	blob, err := store.New(ctx, store.Config{
		Backend:   cfg.StoreBackend,
		LocalRoot: cfg.LocalRoot,
		S3Bucket:  cfg.S3Bucket,
		S3Region:  cfg.S3Region,
	})
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	h := relay.New(cfg, act, blob, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Streamed uploads/downloads can legitimately run for minutes on a
		// large blob over a slow link; no finite Read/WriteTimeout here,
		// matching the relay's streaming contract.
		IdleTimeout: 2 * time.Minute,
	}

	schedulerDone := h.RunScheduler(ctx, time.Minute)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: h.MetricsHandler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("relay starting", "listen", cfg.ListenAddr, "backend", cfg.StoreBackend, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received — draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx) //nolint:errcheck
	}
	if schedulerDone != nil {
		<-schedulerDone
	}

	logger.Info("relay stopped")
	return nil
}
