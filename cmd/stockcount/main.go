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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockcount/internal/app"
	"github.com/odyssey-erp/stockcount/internal/inventory"
	"github.com/odyssey-erp/stockcount/internal/masterdata"
	"github.com/odyssey-erp/stockcount/internal/observability"
	"github.com/odyssey-erp/stockcount/internal/platform/cache"
	"github.com/odyssey-erp/stockcount/internal/platform/db"
	"github.com/odyssey-erp/stockcount/internal/rbac"
	"github.com/odyssey-erp/stockcount/internal/shared"
	"github.com/odyssey-erp/stockcount/internal/stockcount"
	"github.com/odyssey-erp/stockcount/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(rbac.NewRepository(dbpool))
	if cfg.SeedRoles {
		if err := rbacService.Seed(ctx, rbac.DefaultRoles()); err != nil {
			logger.Error("seed roles", slog.Any("error", err))
			os.Exit(1)
		}
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	masterCache := cache.NewCache(redisClient, "masterdata", cfg.MasterDataCacheTTL)
	masterService := masterdata.NewService(masterdata.NewRepository(dbpool), masterCache, logger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("job inspector close", slog.Any("error", err))
		}
	}()

	stockCountService := stockcount.NewService(stockcount.Dependencies{
		Repo:      stockcount.NewRepository(dbpool),
		Stock:     inventoryService,
		Locations: masterService,
		Catalog:   masterService,
		Auth:      rbacService,
		Notifier:  jobClient,
		Audit:     auditLogger,
		Observer:  metrics,
		Trail:     approvalRecorder,
		Logger:    logger,
	}, stockcount.ServiceConfig{
		FollowUpDueIn: cfg.FollowUpDueIn,
		NamePrefix:    cfg.CountNamePrefix,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Sessions:          sessionManager,
		StockCountHandler: stockcount.NewHandler(logger, stockCountService, rbacMiddleware, idempotencyStore),
		InventoryHandler:  inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		MasterDataHandler: masterdata.NewHandler(logger, masterService, rbacMiddleware),
		RBACHandler:       rbac.NewHandler(logger, rbacService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
