package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atharvarekhawar/DropIt/internal/objectstore"
	"github.com/atharvarekhawar/DropIt/internal/proxy"
	"github.com/atharvarekhawar/DropIt/internal/repository/postgres"
	"github.com/atharvarekhawar/DropIt/pkg/config"
	"github.com/atharvarekhawar/DropIt/pkg/logger"
)

func main() {
	cfg := config.LoadProxyConfig()
	log := logger.New("proxy", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
		Bucket:    cfg.Bucket,
		Region:    cfg.AWSRegion,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Error("failed to configure object store", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	resolver := proxy.NewCachingResolver(proxy.NewRegistryResolver(repo, repo), cfg.CacheTTL)
	handler := proxy.NewHandler(resolver, store, cfg.ArtifactRoot, log)

	// Metrics live on a separate listener: every path on the main listener
	// belongs to proxied sites.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("proxy starting", "addr", cfg.Addr, "root", cfg.ArtifactRoot)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("proxy stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
