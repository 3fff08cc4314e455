// Package http 提供订单提交与查询的 HTTP 处理器
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingpipeline/internal/order/application"
	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
	"github.com/wyfcoding/tradingpipeline/pkg/middleware"
)

// TradingHandler 订单 HTTP 处理器
type TradingHandler struct {
	orders    *application.OrderService
	positions application.PositionAggregator
	metrics   *metrics.Metrics
}

// NewTradingHandler 创建 HTTP 处理器
func NewTradingHandler(orders *application.OrderService, positions application.PositionAggregator, m *metrics.Metrics) *TradingHandler {
	return &TradingHandler{
		orders:    orders,
		positions: positions,
		metrics:   m,
	}
}

// RegisterRoutes 注册路由（调用方需已挂载 JWT 鉴权中间件）
func (h *TradingHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/orders", h.PlaceOrder)
	router.GET("/orders", h.ListOrders)
	router.GET("/positions", h.GetPositions)
}

// placeOrderRequest 下单请求体
type placeOrderRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required"`
	Type     string          `json:"type" binding:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

// PlaceOrder 下单
func (h *TradingHandler) PlaceOrder(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}

	orderID, err := h.orders.PlaceOrder(c.Request.Context(), application.PlaceOrderCommand{
		UserID:   userID,
		Symbol:   req.Symbol,
		Side:     domain.OrderSide(req.Side),
		Type:     domain.OrderType(req.Type),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		if errors.Is(err, application.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Order submission failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order submission failed"})
		return
	}

	if h.metrics != nil {
		h.metrics.CommandsSubmitted.Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId": orderID,
		"status":  domain.OrderStatusPending,
		"message": "Order submitted for execution",
	})
}

// ListOrders 查询当前用户最近的订单事件
func (h *TradingHandler) ListOrders(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	events, err := h.orders.ListOrders(c.Request.Context(), userID)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list orders", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetPositions 查询当前用户的持仓
func (h *TradingHandler) GetPositions(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	positions, err := h.positions.Positions(c.Request.Context(), userID)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to compute positions", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch positions"})
		return
	}

	c.JSON(http.StatusOK, positions)
}
