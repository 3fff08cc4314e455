// GatewayService 主程序
// 功能：提供注册登录、订单提交、订单查询与持仓查询的 HTTP 接口，
// 订单命令校验落库后发布到总线，由执行服务异步处理
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	authapp "github.com/wyfcoding/tradingpipeline/internal/auth/application"
	authdomain "github.com/wyfcoding/tradingpipeline/internal/auth/domain"
	authmysql "github.com/wyfcoding/tradingpipeline/internal/auth/infrastructure/persistence/mysql"
	authhttp "github.com/wyfcoding/tradingpipeline/internal/auth/interfaces/http"
	orderapp "github.com/wyfcoding/tradingpipeline/internal/order/application"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	ordermysql "github.com/wyfcoding/tradingpipeline/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/wyfcoding/tradingpipeline/internal/order/interfaces/http"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/bus"
	"github.com/wyfcoding/tradingpipeline/pkg/config"
	"github.com/wyfcoding/tradingpipeline/pkg/db"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
	"github.com/wyfcoding/tradingpipeline/pkg/middleware"
	"github.com/wyfcoding/tradingpipeline/pkg/ratelimit"
)

func main() {
	// 1. 加载配置
	configPath := flag.String("config", "configs/gateway/config.toml", "path to config file")
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
	logger.Info(ctx, "Starting GatewayService",
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

	if cfg.Environment == "dev" {
		if err := database.AutoMigrate(
			&authdomain.User{},
			&orderdomain.OrderCommand{},
			&orderdomain.OrderEvent{},
			&orderdomain.Credential{},
		); err != nil {
			logger.Fatal(ctx, "Failed to auto-migrate schema", "error", err)
		}
	}

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
	userRepo := authmysql.NewUserRepository(database.DB)
	credentialVault := vault.New(cfg.Vault.Key)

	// 7. 初始化应用服务
	authService := authapp.NewAuthService(
		userRepo, credentialRepo, credentialVault,
		cfg.JWT.Secret, time.Duration(cfg.JWT.ExpireHours)*time.Hour,
	)
	orderService := orderapp.NewOrderService(commandRepo, eventRepo, messageBus)
	positionAggregator := orderapp.NewPositionAggregator(eventRepo)

	// 8. 初始化限流器（与总线共用 Redis 连接池）
	rateLimiter := ratelimit.NewRedisRateLimiter(messageBus.Client())

	// 9. 创建 HTTP 服务器
	httpServer := createHTTPServer(cfg, metricsInstance, authService, orderService, positionAggregator, rateLimiter)

	// 10. 启动 HTTP 服务器
	go func() {
		logger.Info(ctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server error", "error", err)
		}
	}()

	// 11. 优雅关停
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "Shutting down GatewayService")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
	}

	logger.Info(ctx, "GatewayService stopped")
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(
	cfg *config.Config,
	metricsInstance *metrics.Metrics,
	authService *authapp.AuthService,
	orderService *orderapp.OrderService,
	positionAggregator orderapp.PositionAggregator,
	rateLimiter ratelimit.RateLimiter,
) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 添加中间件
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinCORSMiddleware())

	// 公开路由：注册与登录
	api := router.Group("/api")
	authHandler := authhttp.NewAuthHandler(authService)
	authHandler.RegisterRoutes(api.Group("/auth"))

	// 受保护路由：订单与持仓
	protected := api.Group("")
	protected.Use(middleware.JWTAuthMiddleware(cfg.JWT.Secret))
	if cfg.RateLimit.Enabled {
		protected.Use(middleware.RateLimitMiddleware(rateLimiter, ratelimit.Limit{
			Rate:   cfg.RateLimit.Rate,
			Period: time.Duration(cfg.RateLimit.Period) * time.Second,
			Burst:  cfg.RateLimit.Burst,
		}))
	}
	tradingHandler := orderhttp.NewTradingHandler(orderService, positionAggregator, metricsInstance)
	tradingHandler.RegisterRoutes(protected)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
