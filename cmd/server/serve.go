package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"hls-proxy/internal/platform/logger"
	"hls-proxy/internal/platform/metrics"
	"hls-proxy/internal/proxy"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := proxy.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, !cfg.DevMode)
	met := metrics.New()

	r, err := newRouter(cfg, log, met)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"allowed_origins", len(cfg.AllowedOrigins),
		"origin_gating", cfg.OriginGating,
		"token_issuance", cfg.APIKey != "",
		"upstream_timeout", cfg.UpstreamTimeout.String(),
		"dev_mode", cfg.DevMode,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped")
	return nil
}

// newRouter wires the proxy from cfg and returns the root HTTP handler.
func newRouter(cfg proxy.Config, log *slog.Logger, met *metrics.Metrics) (http.Handler, error) {
	codec, err := proxy.NewCodec(cfg.Secret, cfg.SkewBuckets)
	if err != nil {
		return nil, err
	}

	fopts := cfg.FetcherOptions()
	if cfg.DevMode {
		fopts.Logger = log
	}
	svc := proxy.NewService(proxy.NewFetcher(fopts), codec, cfg.UpstreamTimeout, log, met)
	h := proxy.NewHandler(svc, proxy.NewOriginPolicy(cfg.AllowedOrigins), cfg.HandlerOptions(), log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Method(http.MethodGet, "/metrics", met.Handler())
	h.Mount(r)
	return r, nil
}
