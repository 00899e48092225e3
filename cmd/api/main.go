package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cabinetdz/cabinet-platform/internal/api/router"
	appconfig "github.com/cabinetdz/cabinet-platform/internal/config"
	"github.com/cabinetdz/cabinet-platform/internal/observability/metrics"
	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/internal/portal"
	"github.com/cabinetdz/cabinet-platform/internal/reports"
	appsync "github.com/cabinetdz/cabinet-platform/internal/sync"
	"github.com/cabinetdz/cabinet-platform/internal/visits"
	"github.com/cabinetdz/cabinet-platform/internal/worker/syncworker"
	"github.com/cabinetdz/cabinet-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting cabinet-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	reportDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open reports db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = reportDB.Close() }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, sync lease disabled", "error", err)
			redisClient = nil
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	queueMetrics := metrics.NewQueueMetrics(registry)
	syncMetrics := metrics.NewSyncMetrics(registry)

	visitStore := visits.NewStore(pool)
	patientStore := patients.NewStore(pool)
	guard := visits.NewGuard(visitStore, cfg.DailyVisitCap)
	queue := visits.NewQueue(visitStore, logger, queueMetrics)
	visitService := visits.NewService(visitStore, patientStore, guard, queue, logger, queueMetrics)

	reportStore := reports.NewStore(reportDB, logger)
	portalClient := portal.NewClient(cfg.PortalBaseURL, cfg.PortalTimeout, logger)
	engine := appsync.NewEngine(visitStore, patientStore, guard, portalClient, reportStore, logger, syncMetrics)
	lock := appsync.NewLock(redisClient, cfg.SyncLockTTL)

	if cfg.SyncEnabled {
		worker := syncworker.New(engine, lock, logger).WithInterval(cfg.SyncInterval)
		go worker.Run(ctx)
	}

	routerCfg := &router.Config{
		Logger:             logger,
		PatientsHandler:    patients.NewHandler(patientStore, logger),
		VisitsHandler:      visits.NewHandler(visitService, logger),
		SyncHandler:        appsync.NewHandler(engine, lock, visitService, patientStore, logger),
		ReportsHandler:     reports.NewHandler(reportStore, logger),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
