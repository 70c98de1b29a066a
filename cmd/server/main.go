package main

// @title Freemail Backend API
// @version 1.0.0
// @description 多租户自定义域名邮箱 API
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}
// @securityDefinitions.apikey WebhookSecret
// @in header
// @name x-webhook-secret

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

	_ "freemail/backend/docs"
	"freemail/backend/internal/auth"
	jwtpkg "freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/config"
	"freemail/backend/internal/health"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/middleware"
	"freemail/backend/internal/monitoring"
	"freemail/backend/internal/pool"
	"freemail/backend/internal/relay"
	"freemail/backend/internal/security"
	"freemail/backend/internal/service"
	"freemail/backend/internal/smtp"
	"freemail/backend/internal/storage/hybrid"
	"freemail/backend/internal/storage/postgres"
	"freemail/backend/internal/storage/redis"
	"freemail/backend/internal/thread"
	httptransport "freemail/backend/internal/transport/http"
	"freemail/backend/internal/websocket"
)

const version = "1.0.0"

// main 启动 HTTP API、入站 SMTP 与后台任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting freemail server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 存储层
	store, err := hybrid.NewStoreWithType(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(ctx, cfg.Redis, log)
		if err != nil {
			_ = store.Close()
			return err
		}
	}

	atomic := cfg.Threading.Mode == "atomic"
	if atomic && cfg.Threading.KeyBackend == "redis" {
		// 关闭时由 hybrid.Store 一并关闭 Redis
		store = hybrid.NewStore(store, rdb)
	} else if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()

	// 地址目录与线程解析
	dirOpts := service.DirectoryOptions{}
	var dirCache *redis.DirectoryCache
	if rdb != nil {
		dirCache = redis.NewDirectoryCache(rdb, cfg.Redis.DirectoryTTL)
		dirOpts.Remote = dirCache
	}
	directory := service.NewDirectory(store, dirOpts, log)
	defer directory.Close()

	resolver := thread.NewResolver(store)
	if atomic {
		resolver = thread.NewAtomicResolver(store, store)
	}
	log.Info("thread resolver configured",
		zap.String("mode", cfg.Threading.Mode),
		zap.String("key_backend", cfg.Threading.KeyBackend),
	)

	// 实时推送：多实例时经 Redis 转发
	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log)
	workers := pool.NewWorkerPool(4, 1024, log)
	var (
		events service.EventPublisher = hub
		bus    *redis.EventBus
	)
	if rdb != nil {
		bus = redis.NewEventBus(rdb)
		events = service.NewAsyncPublisher(bus, workers, log)
	}

	outboundRelay, err := newRelay(ctx, cfg, log)
	if err != nil {
		return err
	}
	blobs, err := newBlobStore(cfg, log)
	if err != nil {
		return err
	}

	// 服务层
	messageService := service.NewMessageService(store, resolver, cfg.Messages.DefaultLimit, cfg.Messages.MaxLimit, log)
	domainService := service.NewDomainService(store, directory, log)
	addressService := service.NewAddressService(store, directory, cfg.Accounts.CascadeDeleteTenant, log)
	inboundService := service.NewInboundService(directory, messageService, blobs, events, metrics, log)
	outboundService := service.NewOutboundService(directory, messageService, blobs, outboundRelay, events, metrics, log)
	uploadService := service.NewUploadService(blobs, security.NewUploadPolicy(cfg.Blob.MaxUploadBytes), messageService, log)

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	authService := auth.NewService(store, tokens, cfg.Accounts.InviteTTL, log)
	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	if cfg.Admin.Email != "" {
		if _, created, err := authService.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			log.Error("failed to ensure admin account", zap.Error(err))
		} else if created {
			log.Info("admin account bootstrapped", zap.String("email", cfg.Admin.Email))
		}
	}

	// 健康检查
	readiness := health.NewHealthChecker(log)
	readiness.AddReadiness("store", health.PingFunc(store.Health))
	monitor := monitoring.NewHealthChecker(metrics, log, version)
	monitor.AddProbe("store", true, store.Health)
	if rdb != nil {
		readiness.AddReadiness("redis", rdb)
		monitor.AddProbe("redis", false, rdb.Ping)
	}

	var pg *postgres.Client
	if cfg.Database.Type == "postgres" {
		pg, err = postgres.New(ctx, cfg.Database, log)
		if err != nil {
			log.Warn("postgres health pool unavailable", zap.Error(err))
		} else {
			defer pg.Close()
			monitor.AddProbe("postgres_pool", false, pg.Ping)
		}
	}

	webhookLimiter := middleware.NewRateLimiter("webhook", cfg.Webhook.RatePerSecond, cfg.Webhook.Burst, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		Logger:          log,
		AuthService:     authService,
		DomainService:   domainService,
		AddressService:  addressService,
		MessageService:  messageService,
		InboundService:  inboundService,
		OutboundService: outboundService,
		UploadService:   uploadService,
		WebSocketHub:    hub,
		Metrics:         metrics,
		Monitor:         monitor,
		Health:          readiness,
		WebhookLimiter:  webhookLimiter,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	workers.Start(groupCtx)

	// HTTP 服务器
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 入站 SMTP
	if cfg.SMTP.Enabled {
		backend := smtp.NewBackend(inboundService, smtp.NewConnectionLimiter(100, 20), log)
		smtpServer := smtp.NewServer(cfg.SMTP, backend, log)
		group.Go(func() error {
			return smtpServer.Run(groupCtx)
		})
	}

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		return hub.Run(groupCtx)
	})

	if bus != nil {
		group.Go(func() error {
			log.Info("subscribing to realtime events", zap.String("channel", redis.EventsChannel))
			if err := bus.Subscribe(groupCtx, hub.Deliver); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("event subscription: %w", err)
			}
			return nil
		})
	}

	if dirCache != nil {
		// 其他实例删除地址或域名后清除本地目录缓存
		group.Go(func() error {
			log.Info("subscribing to directory invalidations", zap.String("channel", redis.DirectoryChannel))
			if err := dirCache.Subscribe(groupCtx, directory.Evict); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("directory invalidation subscription: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return webhookLimiter.Run(groupCtx)
	})

	group.Go(func() error {
		log.Info("starting monitoring services")
		return monitor.Run(groupCtx, 30*time.Second)
	})

	if pg != nil {
		group.Go(func() error {
			return reportPoolStats(groupCtx, pg, metrics)
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		workers.Stop()
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newRelay 按 relay.provider 创建出站中继
func newRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) (relay.Relay, error) {
	switch cfg.Relay.Provider {
	case "ses":
		r, err := relay.NewSESRelay(ctx, cfg.Relay.SES, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SES relay: %w", err)
		}
		log.Info("using SES relay", zap.String("region", cfg.Relay.SES.Region))
		return r, nil
	default:
		log.Info("using SMTP relay",
			zap.String("host", cfg.Relay.SMTP.Host),
			zap.Int("port", cfg.Relay.SMTP.Port),
			zap.String("tls_mode", cfg.Relay.SMTP.TLSMode),
		)
		return relay.NewSMTPRelay(cfg.Relay.SMTP, log), nil
	}
}

// newBlobStore 按 blob.provider 创建附件存储
func newBlobStore(cfg *config.Config, log *zap.Logger) (blob.Store, error) {
	if cfg.Blob.Provider == "filesystem" {
		store, err := blob.NewFilesystemStore(cfg.Blob, log)
		if err != nil {
			return nil, err
		}
		log.Info("using filesystem blob storage",
			zap.String("path", cfg.Blob.Path),
			zap.String("public_url", cfg.Blob.PublicURL),
		)
		return store, nil
	}
	log.Info("using catbox blob storage", zap.String("endpoint", cfg.Blob.CatboxURL))
	return blob.NewCatboxStore(cfg.Blob, log), nil
}

// reportPoolStats 定期上报连接池使用情况
func reportPoolStats(ctx context.Context, pg *postgres.Client, metrics *monitoring.Metrics) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			metrics.UpdateDatabaseConnections(int(pg.Stats().TotalConns()))
		}
	}
}
