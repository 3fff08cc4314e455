// Package metrics 提供 Prometheus helper，覆盖订单管道的核心指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 提交的订单命令数
	CommandsSubmitted prometheus.Counter
	// 执行器消费的命令数
	CommandsConsumed prometheus.Counter
	// 按终态统计的订单事件数
	EventsTotal *prometheus.CounterVec
	// 交易所下单耗时
	ExchangeRequestDuration prometheus.Histogram
	// 存储重试次数
	StoreRetriesTotal prometheus.Counter

	// 当前在线 WebSocket 连接数
	LiveConnections prometheus.Gauge
	// 实时推送成功数
	NotificationsDelivered prometheus.Counter
	// 因无在线连接而丢弃的事件数
	NotificationsDropped prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		CommandsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "order_commands_submitted_total",
			Help:      "Total order commands accepted and published",
		}),
		CommandsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "order_commands_consumed_total",
			Help:      "Total order commands consumed from the bus",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "order_events_total",
			Help:      "Total terminal order events by status",
		}, []string{"status"}),
		ExchangeRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "exchange_request_duration_seconds",
			Help:      "Exchange order submission duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "store_retries_total",
			Help:      "Total persistence retries caused by store unavailability",
		}),

		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "live_connections",
			Help:      "Number of active WebSocket connections",
		}),
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "notifications_delivered_total",
			Help:      "Total order events delivered to live connections",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "notifications_dropped_total",
			Help:      "Total order events dropped from the live path",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommandsSubmitted,
		m.CommandsConsumed,
		m.EventsTotal,
		m.ExchangeRequestDuration,
		m.StoreRetriesTotal,
		m.LiveConnections,
		m.NotificationsDelivered,
		m.NotificationsDropped,
	}

	for _, collector := range collectors {
		if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()
}
