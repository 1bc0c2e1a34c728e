package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ccms/backend/config"
	"ccms/backend/internal/api/handler"
	"ccms/backend/internal/api/router"
	"ccms/backend/internal/repository"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/cipher"
	"ccms/backend/pkg/database"
	"ccms/backend/pkg/jwt"
	applogger "ccms/backend/pkg/logger"
	"ccms/backend/pkg/redis"
	"ccms/backend/pkg/storage"
	"ccms/backend/pkg/telemetry"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("CCMS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("vault_backend", cfg.Vault.Backend),
	)

	// 3. 链路追踪（未配置 endpoint 时为 no-op）
	shutdownTracing, err := telemetry.Setup(context.Background(), &cfg.Telemetry)
	if err != nil {
		logger.Warn("初始化链路追踪失败，继续运行", zap.Error(err))
	}

	// 4. 连接数据库并执行迁移
	db, err := database.NewDB(&cfg.Database, logger, cfg.Log.Level == "debug")
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 5. 连接 Redis（可选：未配置或连接失败时降级运行）
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			if cfg.Breaker.Backend == "redis" {
				logger.Fatal("熔断计数依赖 Redis，连接失败", zap.Error(err))
			}
			logger.Warn("Redis 连接失败，限流与 Token 黑名单将不可用", zap.Error(err))
			rdb = nil
		}
	}

	// 6. 文档加密密钥：配置优先，否则读取/生成密钥文件
	km, err := loadKeyMaterial(&cfg.Vault, logger)
	if err != nil {
		logger.Fatal("加载文档加密密钥失败", zap.Error(err))
	}
	docCipher, err := cipher.New(km)
	if err != nil {
		logger.Fatal("初始化文档加密失败", zap.Error(err))
	}

	// 7. 文档存储
	store, err := newStorage(cfg)
	if err != nil {
		logger.Fatal("初始化文档存储失败", zap.Error(err))
	}

	// 8. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	audit := service.NewActivityAuditRecorder(repo.Activity, logger)
	guard := service.NewUploadGuard(newCounterStore(cfg, rdb), cfg.Breaker.Threshold, logger)
	vault := service.NewDocumentVault(&cfg.Vault, store, docCipher, logger)

	svc := service.NewService(cfg, repo, service.Deps{Vault: vault, Guard: guard, Audit: audit}, logger)
	h := handler.NewHandler(svc, logger)

	// 9. 初始化路由
	engine := router.Setup(cfg, h, jwt.NewManager(&cfg.Auth), rdb, db, logger)

	// 10. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 11. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 在途的操作日志写完再关数据库
	audit.Wait(ctx)

	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("关闭链路追踪失败", zap.Error(err))
		}
	}

	sqlDB.Close()

	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

func loadKeyMaterial(cfg *config.VaultConfig, logger *zap.Logger) (cipher.KeyMaterial, error) {
	if cfg.Key != "" && cfg.IV != "" {
		return cipher.ParseKeyMaterial(cfg.Key, cfg.IV)
	}
	km, created, err := cipher.LoadOrCreateKeyFile(cfg.KeyFile)
	if err != nil {
		return cipher.KeyMaterial{}, err
	}
	if created {
		logger.Warn("已生成新的文档加密密钥文件，请妥善备份", zap.String("path", cfg.KeyFile))
	}
	return km, nil
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Vault.Backend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3(ctx, &cfg.S3)
	}
	return storage.NewLocal(cfg.Vault.Root)
}

func newCounterStore(cfg *config.Config, rdb *redis.Client) service.CounterStore {
	if cfg.Breaker.Backend == "redis" && rdb != nil {
		return service.NewRedisCounterStore(rdb, cfg.Breaker.TTL)
	}
	return service.NewMemoryCounterStore(cfg.Breaker.TTL, cfg.Breaker.MaxEntries)
}
