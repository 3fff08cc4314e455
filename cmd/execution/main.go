// ExecutionService 主程序
// 功能：消费订单命令，解密用户凭证后调用交易所执行，
// 把终态事件落库并发布到事件频道
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/tradingpipeline/internal/execution/application"
	"github.com/wyfcoding/tradingpipeline/internal/execution/infrastructure/exchange"
	ordermysql "github.com/wyfcoding/tradingpipeline/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/bus"
	"github.com/wyfcoding/tradingpipeline/pkg/config"
	"github.com/wyfcoding/tradingpipeline/pkg/db"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

func main() {
	// 1. 加载配置
	configPath := flag.String("config", "configs/execution/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting ExecutionService",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// 3. 初始化数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()

	// 4. 初始化总线
	messageBus, err := bus.New(bus.Config{
		Host:                 cfg.Redis.Host,
		Port:                 cfg.Redis.Port,
		Password:             cfg.Redis.Password,
		DB:                   cfg.Redis.DB,
		MaxPoolSize:          cfg.Redis.MaxPoolSize,
		ReconnectMaxInterval: cfg.Redis.ReconnectMaxInterval,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize message bus", "error", err)
	}
	defer messageBus.Close()

	// 5. 初始化指标
	metricsInstance := metrics.New(cfg.ServiceName)
	if err := metricsInstance.Register(); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 6. 初始化仓储与凭证加密器
	commandRepo := ordermysql.NewCommandRepository(database.DB)
	eventRepo := ordermysql.NewEventRepository(database.DB)
	credentialRepo := ordermysql.NewCredentialRepository(database.DB)
	credentialVault := vault.New(cfg.Vault.Key)

	// 7. 初始化交易所客户端（熔断器包装）
	exchangeClient := exchange.NewBreakerClient(exchange.NewClient(cfg.Exchange.BaseURL, metricsInstance))

	// 8. 创建执行器
	worker := application.NewWorker(
		commandRepo, eventRepo, credentialRepo,
		credentialVault, exchangeClient, messageBus, metricsInstance,
		application.Config{
			MaxConcurrent:        cfg.Worker.MaxConcurrent,
			SubmitTimeout:        time.Duration(cfg.Exchange.SubmitTimeout) * time.Second,
			StoreRetryMaxElapsed: time.Duration(cfg.Worker.StoreRetryMaxElapsed) * time.Second,
		},
	)

	// 9. 启动执行器，直到收到退出信号
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "Execution worker exited with error", "error", err)
	}

	// 10. 优雅关停：等待在途命令处理完毕
	logger.Info(ctx, "Shutting down ExecutionService, draining in-flight commands")
	worker.Wait()

	logger.Info(ctx, "ExecutionService stopped")
}
