package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"rentgidi-chat/config"
	"rentgidi-chat/models"
	"rentgidi-chat/realtime"
	"rentgidi-chat/routes"
	"rentgidi-chat/services"
	"rentgidi-chat/store"
	"rentgidi-chat/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库
	db, err := config.OpenDB(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	// 自动迁移
	if err := models.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 通知投递：配置了 redis 就推入队列，否则只记日志
	var sink services.Notifier = services.NewLogNotifier(logger.Named("notify"))
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		sink = services.NewRedisNotifier(rdb, cfg.NotifyChannel)
	}
	dispatcher := services.NewDispatcher(sink, cfg.NotifyWorkers, cfg.NotifyQueueSize, logger)

	directory := services.NewGormDirectory(db)
	messages := services.NewMessageService(store.New(db), directory, directory, dispatcher, logger)
	tokens := utils.NewJWT(cfg.JWTSecret, 24*time.Hour)
	gateway := realtime.NewGateway(realtime.NewRegistry(), messages, directory, tokens, realtime.GatewayConfig{
		AuthTimeout:  cfg.AuthTimeout,
		TypingTTL:    cfg.TypingTTL,
		RateLimitRPS: cfg.RateLimitRPS,
	}, logger)

	// 注册路由
	r := routes.RegisterRoutes(routes.Deps{
		Config:   cfg,
		Messages: messages,
		Gateway:  gateway,
		Tokens:   tokens,
		Log:      logger,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// websocket 连接已被 hijack，Shutdown 不会等待它们，需要单独关闭
	gateway.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	dispatcher.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
