// NotificationService 主程序
// 功能：维护用户 WebSocket 连接，消费订单事件频道做实时推送，
// 并转发交易所行情流的价格更新
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/tradingpipeline/internal/notification/application"
	"github.com/wyfcoding/tradingpipeline/internal/notification/infrastructure/pricefeed"
	"github.com/wyfcoding/tradingpipeline/internal/notification/interfaces/ws"
	orderapp "github.com/wyfcoding/tradingpipeline/internal/order/application"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	ordermysql "github.com/wyfcoding/tradingpipeline/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/tradingpipeline/pkg/bus"
	"github.com/wyfcoding/tradingpipeline/pkg/config"
	"github.com/wyfcoding/tradingpipeline/pkg/db"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
	"github.com/wyfcoding/tradingpipeline/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. 加载配置
	configPath := flag.String("config", "configs/notification/config.toml", "path to config file")
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
	logger.Info(ctx, "Starting NotificationService",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// 3. 初始化数据库（持仓快照推送需要读取成交历史）
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

	// 6. 初始化连接中心与事件消费器
	hub := application.NewHub(metricsInstance)
	eventRepo := ordermysql.NewEventRepository(database.DB)
	positionAggregator := orderapp.NewPositionAggregator(eventRepo)
	consumer := application.NewEventConsumer(hub, positionAggregator, metricsInstance)

	// 7. 创建 WebSocket 接入服务与行情流
	wsServer := ws.NewServer(hub, cfg.JWT.Secret)
	feed := pricefeed.New(hub, cfg.Exchange.StreamURL, cfg.Exchange.TickerSymbols)

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware())
	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWS(c.Writer, c.Request)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     cfg.ServiceName,
			"connections": hub.Count(),
		})
	})

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     router,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
	}

	// 8. 启动各组件
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		logger.Info(ctx, "Starting WebSocket server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return messageBus.Subscribe(groupCtx, orderdomain.ChannelOrderStatus, consumer.HandleEvent)
	})

	group.Go(func() error {
		return feed.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// 9. 等待退出
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "NotificationService exited with error", "error", err)
	}

	logger.Info(ctx, "NotificationService stopped")
}
