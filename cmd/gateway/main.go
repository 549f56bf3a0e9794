package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/oneshot/internal/config"
	"github.com/zynqcloud/oneshot/internal/gateway"
	"github.com/zynqcloud/oneshot/internal/signalutil"
)

var version = "dev"

func main() {
	cfg := config.LoadGateway()

	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Webhook gateway: normalizes chat-bot payloads and dispatches them to an upstream webhook.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on")
	flags.StringVar(&cfg.UpstreamBase, "upstream-base", cfg.UpstreamBase, "base URL of the upstream chat webhook")
	flags.StringVar(&cfg.BotKey, "bot-key", cfg.BotKey, "key query parameter appended to every upstream call")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "separate listen address for /metrics (empty disables)")

	ctx, stop := signal.NotifyContext(context.Background(), signalutil.ShutdownSignals...)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		slog.Error("gateway exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Gateway) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	dispatcher := gateway.NewDispatcher(cfg.UpstreamBase, cfg.BotKey)
	h := gateway.New(cfg, dispatcher, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

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
		logger.Info("gateway starting", "listen", cfg.ListenAddr, "upstream_base", cfg.UpstreamBase)
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

	logger.Info("gateway stopped")
	return nil
}
