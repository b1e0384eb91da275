package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatify/config"
	"chatify/internal/handler"
	"chatify/internal/model"
	"chatify/internal/repository"
	"chatify/internal/service"
	dbPkg "chatify/pkg/db"
	"chatify/pkg/jwt"
	"chatify/pkg/logger"
	"chatify/pkg/metrics"
	"chatify/pkg/mq"
	"chatify/pkg/ratelimit"
	redisPkg "chatify/pkg/redis"
	"chatify/pkg/response"
	"chatify/pkg/upload"
	"chatify/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== Chatify 启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Duration("edit_window", cfg.Message.EditWindow),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	db, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(model.Tables()...); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)

	// 3.2 进程刚启动，没有任何会话，清掉上次遗留的在线状态
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := userRepo.ResetPresence(startCtx); err != nil {
		log.Warn("重置在线状态失败", zap.Error(err))
	}

	// 4. Redis 在线状态镜像（可选）
	var presence *redisPkg.Presence
	if cfg.Redis.Enabled {
		client, err := redisPkg.InitRedis(cfg.Redis)
		if err != nil {
			log.Warn("Redis连接失败，在线状态镜像已关闭", zap.Error(err))
		} else {
			presence = redisPkg.NewPresence(client)
			if err := presence.Reset(startCtx); err != nil {
				log.Warn("重置Redis在线状态失败", zap.Error(err))
			}
			log.Info("Redis连接成功")
		}
	}
	cancelStart()
	defer func() {
		if err := redisPkg.Close(); err != nil {
			log.Error("关闭Redis连接失败", zap.Error(err))
		}
	}()

	// 5. 外部协作者：事件总线、媒体上传
	publisher := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	log.Info("事件发布器就绪", zap.String("mode", mq.Mode(publisher)))

	uploader, err := upload.NewLocalUploader(cfg.Upload.Dir, cfg.Upload.BaseURL, cfg.Upload.MaxBytes)
	if err != nil {
		log.Fatal("初始化上传目录失败", zap.Error(err))
	}

	// 6. 实时通道与业务服务
	var mirror websocket.PresenceMirror
	if presence.Enabled() {
		mirror = presence
	}
	hub := websocket.NewHub(cfg.WebSocket, userRepo, mirror, log)

	jwtSvc := jwt.NewJWTService(cfg.JWT)
	userSvc := service.NewUserService(userRepo, subscriptionRepo, jwtSvc, uploader, publisher, hub, log)
	messageSvc := service.NewMessageService(messageRepo, userRepo, hub, uploader, publisher, cfg.Message, log)
	hub.UseReceipts(messageSvc)

	secureCookie := strings.HasPrefix(cfg.Server.ClientURL, "https://")
	userHandler := handler.NewUserHandler(userSvc, jwtSvc, secureCookie, cfg.Push.VapidPublicKey)
	messageHandler := handler.NewMessageHandler(messageSvc)
	wsHandler := websocket.NewHandler(hub, jwtSvc, userRepo, cfg.WebSocket, cfg.Server.ClientURL, log)

	// 7. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logger.RecoveryMiddleware())
	router.Use(logger.RequestLogger())
	router.Use(metrics.HTTPMetricsMiddleware())

	limiter := ratelimit.NewPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	stopSweep := make(chan struct{})
	go sweepLimiter(limiter, stopSweep, log)
	defer close(stopSweep)

	setupBasicRoutes(router, presence, hub.Manager)

	api := router.Group("/api", limiter.Middleware())
	{
		auth := jwtSvc.AuthMiddleware()
		userHandler.Register(api.Group("/auth"), auth)
		messageHandler.Register(api.Group("/messages", auth, handler.TouchLastSeen(userSvc)))
	}

	// WebSocket路由
	router.GET("/ws", wsHandler.ServeWS)

	// 上传的媒体文件（baseURL 为外部CDN地址时由CDN提供）
	if strings.HasPrefix(cfg.Upload.BaseURL, "/") {
		router.Static(cfg.Upload.BaseURL, cfg.Upload.Dir)
	}

	// 8. 创建HTTP服务器
	// WebSocket为长连接，WriteTimeout不作用于已劫持的连接
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	// 断开剩余会话，写入离线状态
	for _, id := range hub.Manager.OnlineUserIDs() {
		hub.Disconnect(id)
	}

	log.Info("服务器已安全关闭")
}

// sweepLimiter 定期清理长时间未访问的限流器
func sweepLimiter(pool *ratelimit.Pool, stop <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := pool.Sweep(10 * time.Minute); n > 0 {
				log.Debug("清理限流器", zap.Int("removed", n), zap.Int("remaining", pool.Len()))
			}
		case <-stop:
			return
		}
	}
}

// setupBasicRoutes 健康检查与监控
func setupBasicRoutes(router *gin.Engine, presence *redisPkg.Presence, sessions *websocket.Manager) {
	// 完整url为：http://localhost:8080/health
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		dbStatus := "up"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "degraded"
			dbStatus = "down"
		}
		redisStatus := "disabled"
		if presence.Enabled() {
			redisStatus = "up"
			if err := redisPkg.HealthCheck(c.Request.Context()); err != nil {
				status = "degraded"
				redisStatus = "down"
			}
		}
		response.Success(c, gin.H{
			"status":   status,
			"database": dbStatus,
			"redis":    redisStatus,
			"sessions": sessions.Count(),
			"time":     time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/metrics", metrics.Handler())
}
