package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labelgate/backend/internal/auth"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/health"
	"labelgate/backend/internal/middleware"
	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/service"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	labels      *service.LabelService
	keys        *service.KeyService
	pool        *service.BarcodePoolService
	activity    *service.ActivityRecorder
	auth        *auth.Service
	development bool
	log         *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	LabelService    *service.LabelService
	KeyService      *service.KeyService
	PoolService     *service.BarcodePoolService
	ActivityService *service.ActivityRecorder
	AuthService     *auth.Service
	Metrics         *monitoring.Metrics         // 为空时不暴露 /metrics
	HealthChecker   *health.HealthChecker       // 为空时只提供 /health
	WebSocketHub    *websocket.Hub              // 为空时不提供实时推送
	RateLimitStore  storage.RateLimitRepository // 为空时使用进程内限流
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// 批量导入允许更大的请求体
	importLimit := cfg.Barcodes.MaxImportBytes
	if importLimit <= 0 {
		importLimit = middleware.ImportBodyLimit
	}
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/api/admin/barcodes/import": importLimit,
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: cfg.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		labels:      deps.LabelService,
		keys:        deps.KeyService,
		pool:        deps.PoolService,
		activity:    deps.ActivityService,
		auth:        deps.AuthService,
		development: cfg.Log.Development,
		log:         log,
	}

	adminAuth := middleware.NewAdminAuth(deps.AuthService, log)
	validateLimit := middleware.NewRateLimiter("key_validation",
		cfg.RateLimit.ValidationsPerMinute, time.Minute, deps.RateLimitStore, deps.Metrics, log)
	labelLimit := middleware.NewRateLimiter("label_request",
		cfg.RateLimit.LabelsPerMinute, time.Minute, deps.RateLimitStore, deps.Metrics, log)
	loginLimit := middleware.NewRateLimiter("admin_login", 10, time.Minute, deps.RateLimitStore, deps.Metrics, log)

	// ========== Operational Routes ==========
	router.GET("/health", func(c *gin.Context) {
		if deps.HealthChecker == nil {
			Success(c, gin.H{"status": "ok"})
			return
		}
		Success(c, deps.HealthChecker.CheckHealth(c.Request.Context()))
	})
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapH(deps.HealthChecker.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.HealthChecker.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	{
		// ========== Public Routes（终端用户流程） ==========
		api.POST("/keys/validate", validateLimit.Middleware(), handler.validateKey)
		api.POST("/labels", labelLimit.Middleware(), handler.generateLabel)
		api.POST("/labels/barcode", labelLimit.Middleware(), handler.assignBarcode)
		api.GET("/barcodes/status", handler.poolStatus)

		// ========== Admin Routes ==========
		api.POST("/admin/login", loginLimit.Middleware(), handler.login)

		if deps.WebSocketHub != nil {
			// WebSocket 在握手时自行校验令牌
			api.GET("/admin/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		adminRoutes := api.Group("/admin")
		adminRoutes.Use(adminAuth.RequireAdmin())
		{
			adminRoutes.POST("/logout", handler.logout)
			adminRoutes.GET("/me", handler.me)

			// 访问密钥
			adminRoutes.GET("/keys", handler.listKeys)
			adminRoutes.POST("/keys", handler.createKey)
			adminRoutes.PUT("/keys/:id", handler.updateKey)
			adminRoutes.DELETE("/keys/:id", handler.deleteKey)
			adminRoutes.POST("/keys/:id/toggle", handler.toggleKey)

			// 条码池
			adminRoutes.GET("/barcodes", handler.listBarcodes)
			adminRoutes.GET("/barcodes/stats", handler.barcodeStats)
			adminRoutes.POST("/barcodes/import", handler.importBarcodes)
			adminRoutes.DELETE("/barcodes", handler.deleteBarcodes)

			// 使用记录
			adminRoutes.GET("/activity", handler.listActivity)
		}
	}

	return router
}
