package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atharvarekhawar/DropIt/internal/app/migrate"
	"github.com/atharvarekhawar/DropIt/internal/dispatch"
	httpx "github.com/atharvarekhawar/DropIt/internal/http"
	"github.com/atharvarekhawar/DropIt/internal/repository/postgres"
	"github.com/atharvarekhawar/DropIt/internal/service/deploy"
	"github.com/atharvarekhawar/DropIt/internal/service/logs"
	"github.com/atharvarekhawar/DropIt/internal/service/project"
	"github.com/atharvarekhawar/DropIt/internal/ws"
	"github.com/atharvarekhawar/DropIt/pkg/config"
	"github.com/atharvarekhawar/DropIt/pkg/logger"
)

func main() {
	cfg := config.LoadRegistryConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub(cfg.TopicGrace)

	logSvc := logs.New(repo, repo, hub, log, logs.Options{
		FailClosed:       cfg.PersistClosed,
		AppendRetries:    cfg.AppendRetries,
		SubscriberBuffer: cfg.LogBuffer,
	})
	projectSvc := project.New(repo, log, cfg.SubdomainRetries)

	dispatcher, err := newDispatcher(ctx, cfg, log)
	if err != nil {
		log.Error("failed to configure dispatcher", "error", err)
		os.Exit(1)
	}
	deploySvc := deploy.New(repo, repo, dispatcher, logSvc, log, deploy.Options{
		DoneSentinel: cfg.DoneSentinel,
		ErrorPrefix:  cfg.ErrorPrefix,
		BuildTimeout: cfg.BuildTimeout,
		WatchdogTick: cfg.WatchdogTick,
	})
	go deploySvc.RunWatchdog(ctx)

	consumer, err := logs.NewConsumer(cfg.NATSUrl, cfg.LogStream, cfg.LogSubject, cfg.LogConsumer, logSvc, deploySvc, log)
	if err != nil {
		log.Error("failed to connect log ingress", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	if err := consumer.Start(ctx); err != nil {
		log.Error("failed to start log ingress", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projectSvc, deploySvc, logSvc, limiter, cfg.WorkerToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func newDispatcher(ctx context.Context, cfg config.RegistryConfig, log *slog.Logger) (dispatch.Dispatcher, error) {
	switch cfg.DispatchBackend {
	case "builder":
		return dispatch.NewBuilderDispatcher(cfg.BuilderURL, log), nil
	default:
		return dispatch.NewECSDispatcher(ctx, dispatch.ECSOptions{
			Region:         cfg.AWSRegion,
			Cluster:        cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDef,
			ContainerName:  cfg.ECSContainer,
			Subnets:        dispatch.SplitList(cfg.ECSSubnets),
			SecurityGroups: dispatch.SplitList(cfg.ECSSecGroups),
		}, log)
	}
}
