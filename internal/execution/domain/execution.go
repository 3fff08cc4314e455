// Package domain 定义订单执行的领域契约：交易所客户端接口、执行结果与错误分类
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
)

var (
	// ErrUserNotFound 用户没有存储的交易所凭证
	ErrUserNotFound = errors.New("user not found")
	// ErrExecutionFailed 交易所拒单或不可达（超时、HTTP 错误、响应不可解析）
	ErrExecutionFailed = errors.New("execution failed")
)

// OrderRequest 发往交易所的下单请求
type OrderRequest struct {
	Symbol   string
	Side     orderdomain.OrderSide
	Type     orderdomain.OrderType
	Quantity decimal.Decimal
	// 仅 LIMIT 单携带价格
	Price decimal.Decimal
}

// Fill 单笔成交
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// ExecutionResult 交易所返回的标准化执行结果
type ExecutionResult struct {
	// 交易所订单 ID
	ExchangeOrderID int64
	// 交易所侧状态（如 FILLED、PARTIALLY_FILLED）
	Status string
	// 累计成交数量
	ExecutedQty decimal.Decimal
	// 各笔成交明细
	Fills []Fill
}

// ExchangeClient 交易所执行客户端。
// Submit 是同步调用；所有网络失败模式统一映射为 ErrExecutionFailed，
// 并携带上游错误信息。调用方通过 ctx 控制超时。
type ExchangeClient interface {
	Submit(ctx context.Context, req OrderRequest, apiKey, secretKey string) (*ExecutionResult, error)
}

// AverageFillPrice 计算成交量加权平均成交价（Σ price·qty ÷ Σ qty）。
// 没有任何成交时返回 0。
func AverageFillPrice(fills []Fill) decimal.Decimal {
	totalValue := decimal.Zero
	totalQty := decimal.Zero
	for _, f := range fills {
		totalValue = totalValue.Add(f.Price.Mul(f.Qty))
		totalQty = totalQty.Add(f.Qty)
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalQty)
}

// ClassifyStatus 将交易所状态映射为本地终态：
// "FILLED" → FILLED，其余非错误状态 → PARTIALLY_FILLED
func ClassifyStatus(exchangeStatus string) orderdomain.OrderStatus {
	if exchangeStatus == "FILLED" {
		return orderdomain.OrderStatusFilled
	}
	return orderdomain.OrderStatusPartiallyFilled
}
