package application

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
)

// DustThreshold 持仓粉尘阈值：净数量绝对值不超过该值的仓位视为已平
var DustThreshold = decimal.NewFromFloat(0.0001)

// PositionDTO 派生出的持仓快照
type PositionDTO struct {
	// 交易对符号
	Symbol string `json:"symbol"`
	// 净数量（买入为正，卖出为负）
	Quantity decimal.Decimal `json:"quantity"`
	// 成交量加权平均开仓价
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
}

// PositionAggregator 持仓聚合接口。
// 实现必须是引用透明的：同样的事件历史必须得到同样的持仓，
// 以便之后透明地加入缓存层。
type PositionAggregator interface {
	// Positions 计算用户当前的全部持仓
	Positions(ctx context.Context, userID string) ([]PositionDTO, error)
}

// positionAggregator 每次请求都从完整成交历史重算持仓。
// 不维护增量台账，用重算成本换一致性上的简单。
type positionAggregator struct {
	events domain.EventRepository
}

// NewPositionAggregator 创建持仓聚合器
func NewPositionAggregator(events domain.EventRepository) PositionAggregator {
	return &positionAggregator{events: events}
}

// Positions 实现 PositionAggregator.Positions
func (a *positionAggregator) Positions(ctx context.Context, userID string) ([]PositionDTO, error) {
	fills, err := a.events.ListFillsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Aggregate(fills), nil
}

// accumulator 单个交易对的折叠状态
type accumulator struct {
	quantity decimal.Decimal
	cost     decimal.Decimal
}

// Aggregate 将有序的成交事件折叠为持仓列表。
// 纯函数：BUY 累加数量与成本，SELL 递减；均价 = 净成本 / 净数量；
// 净数量绝对值低于粉尘阈值的仓位被过滤掉。
func Aggregate(fills []*domain.OrderEvent) []PositionDTO {
	acc := make(map[string]*accumulator)
	symbols := make([]string, 0)

	for _, event := range fills {
		if !event.IsFill() {
			continue
		}

		qty := event.ExecutedQty
		if !qty.IsPositive() {
			qty = event.Quantity
		}
		price := event.Price

		entry, ok := acc[event.Symbol]
		if !ok {
			entry = &accumulator{quantity: decimal.Zero, cost: decimal.Zero}
			acc[event.Symbol] = entry
			symbols = append(symbols, event.Symbol)
		}

		notional := qty.Mul(price)
		if event.Side == domain.OrderSideBuy {
			entry.quantity = entry.quantity.Add(qty)
			entry.cost = entry.cost.Add(notional)
		} else {
			entry.quantity = entry.quantity.Sub(qty)
			entry.cost = entry.cost.Sub(notional)
		}
	}

	positions := make([]PositionDTO, 0, len(symbols))
	for _, symbol := range symbols {
		entry := acc[symbol]
		if entry.quantity.Abs().LessThanOrEqual(DustThreshold) {
			continue
		}
		positions = append(positions, PositionDTO{
			Symbol:        symbol,
			Quantity:      entry.quantity,
			AvgEntryPrice: entry.cost.Div(entry.quantity),
		})
	}
	return positions
}
