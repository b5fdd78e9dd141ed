package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/handler"
	"github.com/Rarurei/Raruin/internal/infrastructure/cache"
	"github.com/Rarurei/Raruin/internal/infrastructure/database"
	"github.com/Rarurei/Raruin/internal/infrastructure/lock"
	"github.com/Rarurei/Raruin/internal/infrastructure/mq"
	"github.com/Rarurei/Raruin/internal/job"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/service"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径，为空时只使用默认值和环境变量")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 初始化数据库
	db, err := database.InitDB(&cfg.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	store := repository.NewGormStore(db)

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	// 初始化 Redis（仅 lock.driver=redis），用于跨进程的用户锁
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Driver == "redis" {
		rdb, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("Redis 连接成功")
		locker = lock.NewRedisLocker(rdb, cfg.Lock.TTL, cfg.Lock.RetryInterval, cfg.Lock.MaxRetries, logger.Named("lock"))
	}

	// 初始化 Kafka（可选），关闭时通知与备份只写日志/文件
	var publisher mq.Publisher = mq.NewLogPublisher(logger.Named("notify"))
	var backupPublisher mq.Publisher
	if cfg.Kafka.Enabled {
		kp, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer kp.Close()
		logger.Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Kafka.Brokers))
		publisher, backupPublisher = kp, kp
	}

	ledger := service.NewLedgerService(store, locker, cfg, logger.Named("ledger"))
	gamble := service.NewGambleService(ledger, nil)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	var wg sync.WaitGroup
	outboxSender := job.NewOutboxSender(store, publisher, cfg, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outboxSender.Start(ctx)
	}()

	if cfg.Backup.Enabled {
		backupJob := job.NewBackupJob(ledger, backupPublisher, cfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			backupJob.Start(ctx)
		}()
	}

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(ledger, gamble, logger), cfg, logger)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒），再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常", zap.Error(err))
	}

	cancel()
	wg.Wait()

	logger.Info("服务已关闭")
	return nil
}
