package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"freemail/backend/internal/auth"
	"freemail/backend/internal/config"
	"freemail/backend/internal/health"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/middleware"
	"freemail/backend/internal/monitoring"
	"freemail/backend/internal/service"
	"freemail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	Logger          *zap.Logger
	AuthService     *auth.Service
	DomainService   *service.DomainService
	AddressService  *service.AddressService
	MessageService  *service.MessageService
	InboundService  *service.InboundService
	OutboundService *service.OutboundService
	UploadService   *service.UploadService
	WebSocketHub    *websocket.Hub            // 为 nil 时不注册 /v1/ws
	Metrics         *monitoring.Metrics       // 为 nil 时使用私有注册表
	Monitor         *monitoring.HealthChecker // 详细健康报告，可为 nil
	Health          *health.HealthChecker     // 存活与就绪探针，可为 nil
	WebhookLimiter  *middleware.RateLimiter   // 为 nil 时按配置创建
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	cfg := deps.Config
	log := logger.OrNop(deps.Logger)
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	router := gin.New()
	monitor := middleware.NewMonitoringMiddleware(metrics, log)
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(gincors.New(corsConfig(cfg.CORS.AllowedOrigins)))

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 本地附件存储，一律作为下载返回
	if cfg.Blob.Provider == "filesystem" && cfg.Blob.Path != "" {
		files := router.Group("/files", func(c *gin.Context) {
			c.Header("Content-Disposition", "attachment")
			c.Header("X-Content-Type-Options", "nosniff")
			c.Next()
		})
		files.Static("/", cfg.Blob.Path)
	}

	// 监控与健康检查
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Monitor != nil {
		router.GET("/health/details", func(c *gin.Context) {
			report := deps.Monitor.CheckHealth(c.Request.Context())
			status := http.StatusOK
			if report.Status == monitoring.HealthStatusUnhealthy {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
	}

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, cfg.JWT.CookieName, log)
	requireAuth := jwtAuth.RequireAuth()
	requireAdmin := middleware.RequireAdmin()

	authHandler := NewAuthHandler(deps.AuthService, cfg.JWT, log)
	adminHandler := NewAdminHandler(deps.AuthService, log)
	domainHandler := NewDomainHandler(deps.DomainService, log)
	emailHandler := NewEmailHandler(deps.AddressService, log)
	messageHandler := NewMessageHandler(deps.MessageService, deps.OutboundService, log)
	uploadHandler := NewUploadHandler(deps.UploadService, log)

	limiter := deps.WebhookLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter("webhook", cfg.Webhook.RatePerSecond, cfg.Webhook.Burst, metrics)
	}
	webhookHandler := NewWebhookHandler(deps.InboundService, cfg.Webhook.Secret, log)

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/logout", authHandler.Logout)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.POST("/invite/accept", authHandler.AcceptInvite)
			authRoutes.GET("/me", requireAuth, authHandler.Me)
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(requireAuth, requireAdmin)
		{
			adminRoutes.GET("/users", adminHandler.ListUsers)
			adminRoutes.POST("/users", adminHandler.InviteUser)
		}

		// ========== Domain Routes ==========
		domainRoutes := v1.Group("/domains")
		domainRoutes.Use(requireAuth)
		{
			domainRoutes.POST("", domainHandler.Claim)
			domainRoutes.GET("", domainHandler.List)
			domainRoutes.GET("/:id", domainHandler.Get)
			domainRoutes.DELETE("/:id", domainHandler.Delete)
		}

		// ========== Email Address Routes ==========
		emailRoutes := v1.Group("/emails")
		emailRoutes.Use(requireAuth)
		{
			emailRoutes.POST("", emailHandler.Create)
			emailRoutes.GET("", emailHandler.List)
			emailRoutes.POST("/admin", requireAdmin, emailHandler.CreateForTenant)
			emailRoutes.GET("/admin/:userId", requireAdmin, emailHandler.ListForTenant)
			emailRoutes.GET("/:id", emailHandler.Get)
			emailRoutes.DELETE("/:id", emailHandler.Delete)
		}

		// ========== Inbox Routes ==========
		inboxRoutes := v1.Group("/inboxes")
		inboxRoutes.Use(requireAuth)
		{
			inboxRoutes.GET("", emailHandler.ListInboxes)
			inboxRoutes.GET("/:id", emailHandler.GetInbox)
			inboxRoutes.PATCH("/:id", emailHandler.RenameInbox)
		}

		// ========== Message Routes ==========
		messageRoutes := v1.Group("/messages")
		messageRoutes.Use(requireAuth)
		{
			messageRoutes.GET("", messageHandler.List)
			messageRoutes.POST("", messageHandler.Send)
			messageRoutes.GET("/inbox/:inboxId", messageHandler.ListByInbox)
			messageRoutes.GET("/thread/:threadId", messageHandler.Thread)
			messageRoutes.GET("/:id", messageHandler.Get)
			messageRoutes.PATCH("/:id", messageHandler.Update)
		}

		// ========== Upload Routes ==========
		uploadLimit := middleware.BodySizeLimit(uploadHandler.bodyLimit())
		v1.POST("/uploads/catbox", requireAuth, uploadLimit, uploadHandler.UploadCatbox)
		v1.POST("/attachments", requireAuth, uploadLimit, uploadHandler.UploadAttachment)

		// ========== Webhook Routes ==========
		// 由上游中继调用，使用共享密钥而不是会话
		maxBody := cfg.Webhook.MaxBodyBytes
		if maxBody <= 0 {
			maxBody = middleware.EmailBodyLimit
		}
		v1.POST("/webhook/inbound", limiter.Middleware(), middleware.BodySizeLimit(maxBody), webhookHandler.Inbound)

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", requireAuth, deps.WebSocketHub.Handler(middleware.UserID))
		}
	}

	return router
}

// corsConfig 允许所有来源时关闭凭证支持
func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Webhook-Secret"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
