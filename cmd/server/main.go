package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"labelgate/backend/internal/auth"
	"labelgate/backend/internal/bootstrap"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/health"
	"labelgate/backend/internal/logger"
	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/pool"
	httptransport "labelgate/backend/internal/transport/http"
	"labelgate/backend/internal/websocket"
)

const (
	statsInterval = 30 * time.Second
	alertInterval = time.Minute
)

// main 启动标签服务：HTTP API、管理端实时推送与条码池告警。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting labelgate server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("database_type", cfg.Database.Type),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("storage close error", zap.Error(err))
		}
	}()

	svc := bootstrap.NewServices(cfg, stores.Store, log)
	defer svc.StatusCache.Close()

	// 监控
	metrics := monitoring.NewMetrics()
	svc.Keys.SetMetrics(metrics)
	svc.Pool.SetMetrics(metrics)
	svc.Activity.SetMetrics(metrics)

	healthChecker := health.NewHealthChecker(stores.Store, log)
	if stores.Cache != nil {
		healthChecker.AddDependency("redis", stores.Cache.Ping)
	}
	if stores.PGClient != nil {
		healthChecker.AddDependency("postgres_pool", stores.PGClient.Ping)
	}

	// 告警经工作池异步投递
	workers := pool.NewWorkerPool(4, 64, log.Named("workers"))
	workers.Start(ctx)
	defer workers.Stop()

	alertManager := monitoring.NewAlertManager(log, workers)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	if cfg.Alert.SMTPAddr != "" {
		alertManager.AddReceiver(monitoring.NewSMTPAlertReceiver(monitoring.SMTPConfig{
			Addr:     cfg.Alert.SMTPAddr,
			Username: cfg.Alert.SMTPUsername,
			Password: cfg.Alert.SMTPPassword,
			From:     cfg.Alert.From,
			To:       cfg.Alert.To,
		}))
		log.Info("SMTP alert receiver enabled", zap.String("addr", cfg.Alert.SMTPAddr))
	}
	alertManager.AddRule(monitoring.BarcodePoolLowRule(svc.Pool.Stats, cfg.Barcodes.LowWatermark))
	alertManager.AddRule(monitoring.BarcodePoolEmptyRule(svc.Pool.Stats))
	if cfg.Alert.Enabled {
		svc.Pool.SetPoolWatcher(alertManager.CheckRules)
	}

	// 认证
	authService := auth.NewService(cfg.Admin.Username, cfg.Admin.PasswordHash, auth.NewJWTManager(&cfg.JWT), stores.Store, log.Named("auth"))
	if cfg.Admin.PasswordHash == "" {
		log.Warn("admin password hash not configured, admin login disabled")
	}

	if cfg.Keys.SeedDemo {
		if _, err := svc.Keys.SeedDemoKeys(ctx); err != nil {
			log.Error("failed to seed demo keys", zap.Error(err))
		}
	}

	// 实时推送，多实例部署时通过 Redis 转发
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, authService, log.Named("ws"))
	if stores.Cache != nil {
		wsHub.SetRelay(stores.Cache)
	}
	svc.Keys.SetEventPublisher(wsHub)
	svc.Pool.SetEventPublisher(wsHub)

	deps := httptransport.RouterDependencies{
		Config:          cfg,
		LabelService:    svc.Labels,
		KeyService:      svc.Keys,
		PoolService:     svc.Pool,
		ActivityService: svc.Activity,
		AuthService:     authService,
		Metrics:         metrics,
		HealthChecker:   healthChecker,
		WebSocketHub:    wsHub,
		Logger:          log,
	}
	if stores.Cache != nil {
		deps.RateLimitStore = stores.Cache
	}
	router := httptransport.NewRouter(deps)

	httpAddr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// Redis 事件转发 goroutine
	group.Go(func() error {
		if err := wsHub.RunRelay(groupCtx); err != nil {
			// 转发中断后只做本地广播
			log.Warn("event relay stopped", zap.Error(err))
		}
		return nil
	})

	// 告警 goroutine
	group.Go(func() error {
		if !cfg.Alert.Enabled {
			return nil
		}
		log.Info("starting alert monitoring", zap.Duration("interval", alertInterval))
		alertManager.StartMonitoring(groupCtx, alertInterval)
		return nil
	})

	// 定时刷新统计 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				refreshStats(groupCtx, svc, stores, metrics, log)
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// refreshStats 刷新条码池和连接数指标
func refreshStats(ctx context.Context, svc *bootstrap.Services, stores *bootstrap.Stores, metrics *monitoring.Metrics, log *zap.Logger) {
	if _, err := svc.Pool.RefreshStats(ctx); err != nil {
		log.Warn("failed to refresh pool stats", zap.Error(err))
	}
	metrics.UpdateDatabaseConnections(stores.OpenConnections())

	if stores.PGClient == nil {
		return
	}
	snap, err := stores.PGClient.Snapshot(ctx)
	if err != nil {
		log.Warn("failed to read postgres pool snapshot", zap.Error(err))
		return
	}
	log.Debug("postgres pool snapshot",
		zap.Int32("total_conns", snap.TotalConns),
		zap.Int32("idle_conns", snap.IdleConns),
		zap.Int64("available_barcodes", snap.AvailableBarcode))
}
