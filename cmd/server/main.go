package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/dispatch"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/fetch"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/logger"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/provider"
	"mailrelay/backend/internal/queue"
	"mailrelay/backend/internal/render"
	"mailrelay/backend/internal/smtpd"
	"mailrelay/backend/internal/storage/filesystem"
	"mailrelay/backend/internal/storage/memory"
	"mailrelay/backend/internal/storage/postgres"
	httptransport "mailrelay/backend/internal/transport/http"
	"mailrelay/backend/internal/webhook"
)

// main 启动中继服务：HTTP API、出站调度器、入站拉取器，
// 以及可选的 SMTP 提交入口。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log := logger.New(cfg.Log.Level, cfg.Log.Development)
	defer func() { _ = log.Sync() }()

	log.Info("starting mailrelay server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store domain.Store
	if cfg.Database.Type != "" {
		dbStore, err := initializeDatabaseStorage(cfg, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		store = dbStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化队列后端：配置了 Redis 时使用可靠队列，
	// 否则退回内存队列（仅开发）
	var (
		outboundQueue queue.Queue
		inboundQueue  queue.Queue
		redisClient   *redis.Client
		redisOutbound *queue.RedisQueue
	)
	if cfg.Redis.Address != "" {
		redisClient, err = queue.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-memory queues", zap.Error(err))
		}
	}
	if redisClient != nil {
		redisOutbound = queue.NewRedisQueue(redisClient, cfg.Queue.Outbound)
		outboundQueue = redisOutbound
		inboundQueue = queue.NewRedisQueue(redisClient, cfg.Queue.Inbound)
		log.Info("using redis queues", zap.String("address", cfg.Redis.Address))
	} else {
		outboundQueue = queue.NewMemoryQueue(1024)
		inboundQueue = queue.NewMemoryQueue(1024)
		log.Info("using in-memory queues (development mode)")
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisClient, log)

	// 初始化附件文件存储
	blobs, err := filesystem.NewBlobStore(cfg.Storage.AttachmentDir)
	if err != nil {
		log.Warn("failed to initialize attachment storage, continuing without it", zap.Error(err))
		blobs = nil
	} else {
		log.Info("attachment storage initialized", zap.String("dir", cfg.Storage.AttachmentDir))
	}

	// 初始化出站管道
	registry := provider.NewRegistry(store, log, cfg.Dispatcher.AllowCrossTenantFallback)
	renderer := render.NewRenderer()
	attachments := dispatch.NewAttachmentLoader(blobs, log)
	producer := dispatch.NewProducer(store, outboundQueue, metrics, log)
	dispatcher := dispatch.NewDispatcher(
		store,
		outboundQueue,
		registry,
		renderer,
		attachments,
		dispatch.NewTransportFactory(log),
		metrics,
		log,
		dispatch.Config{
			BatchSize:    cfg.Dispatcher.BatchSize,
			PollInterval: cfg.Dispatcher.PollInterval,
			SendTimeout:  cfg.Dispatcher.SendTimeout,
			RatePerSec:   cfg.Dispatcher.RatePerSec,
			Workers:      cfg.Dispatcher.Workers,
		},
	)

	// 初始化入站拉取器
	fetcher := fetch.NewFetcher(
		store,
		inboundQueue,
		&fetch.IMAPDialer{Timeout: cfg.Fetcher.DialTimeout},
		blobs,
		metrics,
		log,
		fetch.Config{
			Interval:    cfg.Fetcher.Interval,
			IMAPWindow:  cfg.Fetcher.IMAPWindow,
			POP3Window:  cfg.Fetcher.POP3Window,
			DialTimeout: cfg.Fetcher.DialTimeout,
		},
	)

	// 初始化回调接收器
	ingestor := webhook.NewIngestor(store, metrics, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:   cfg,
		Producer: producer,
		Ingestor: ingestor,
		Store:    store,
		Health:   healthChecker,
		Metrics:  metrics,
		Logger:   log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 可选的 SMTP 提交入口
	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		smtpBackend := smtpd.NewBackend(store, producer, cfg.SMTP.AuthToken, log)
		smtpServer = gosmtp.NewServer(smtpBackend)
		smtpServer.Addr = cfg.SMTP.BindAddr
		smtpServer.Domain = cfg.SMTP.Domain
		smtpServer.AllowInsecureAuth = cfg.Log.Development // 仅在开发模式允许不安全认证
		smtpServer.ReadTimeout = 10 * time.Second
		smtpServer.WriteTimeout = 10 * time.Second
		smtpServer.MaxMessageBytes = 25 * 1024 * 1024
		smtpServer.MaxRecipients = 50
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 启动前恢复上次崩溃残留的未确认条目
	if redisOutbound != nil {
		if n, err := redisOutbound.Recover(ctx); err != nil {
			log.Warn("outbound queue recovery failed", zap.Error(err))
		} else if n > 0 {
			log.Info("recovered unacknowledged outbound entries", zap.Int("count", n))
		}
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 出站调度器 goroutine
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})

	// 入站拉取器 goroutine
	if cfg.Fetcher.Enabled {
		group.Go(func() error {
			return fetcher.Run(groupCtx)
		})
	}

	// SMTP 提交服务 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP submission server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeDatabaseStorage 按配置初始化数据库存储
func initializeDatabaseStorage(cfg *config.Config, log *zap.Logger) (domain.Store, error) {
	log.Info("initializing database storage", zap.String("database_type", cfg.Database.Type))

	var (
		store *postgres.Store
		err   error
	)
	switch cfg.Database.Type {
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN)
	default:
		store, err = postgres.NewStore(cfg.Database.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create database store: %w", err)
	}

	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return store, nil
}
