// Package application 提供订单提交、查询与持仓聚合的应用服务
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
)

// defaultListLimit 订单列表默认返回最近 100 条事件
const defaultListLimit = 100

// ErrValidation 订单参数校验失败
var ErrValidation = errors.New("validation error")

// CommandPublisher 命令发布接口，由 pkg/bus.Bus 满足
type CommandPublisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// PlaceOrderCommand 下单请求
type PlaceOrderCommand struct {
	UserID   string
	Symbol   string
	Side     domain.OrderSide
	Type     domain.OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// OrderService 订单应用服务。
// 下单路径只负责落库 PENDING 命令并发布到命令总线，绝不直接执行。
type OrderService struct {
	commands  domain.CommandRepository
	events    domain.EventRepository
	publisher CommandPublisher
}

// NewOrderService 构造函数
func NewOrderService(commands domain.CommandRepository, events domain.EventRepository, publisher CommandPublisher) *OrderService {
	return &OrderService{
		commands:  commands,
		events:    events,
		publisher: publisher,
	}
}

// PlaceOrder 校验并提交订单命令，返回订单 ID。
// 先持久化 PENDING 记录，再发布命令；发布失败时订单停留在
// PENDING，可由轮询恢复，不会丢失记录。
func (s *OrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (string, error) {
	if err := validate(cmd); err != nil {
		return "", err
	}

	orderCommand := &domain.OrderCommand{
		OrderID:     uuid.New().String(),
		UserID:      cmd.UserID,
		Symbol:      cmd.Symbol,
		Side:        cmd.Side,
		Type:        cmd.Type,
		Quantity:    cmd.Quantity,
		Price:       cmd.Price,
		Status:      domain.OrderStatusPending,
		SubmittedAt: time.Now().UTC(),
	}

	if err := s.commands.Create(ctx, orderCommand); err != nil {
		return "", err
	}

	if err := s.publisher.Publish(ctx, domain.ChannelOrderSubmit, orderCommand); err != nil {
		logger.Error(ctx, "Failed to publish order command",
			"order_id", orderCommand.OrderID,
			"error", err,
		)
		return "", fmt.Errorf("failed to publish order command: %w", err)
	}

	logger.Info(ctx, "Order command submitted",
		"order_id", orderCommand.OrderID,
		"user_id", cmd.UserID,
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"type", cmd.Type,
	)
	return orderCommand.OrderID, nil
}

// ListOrders 查询用户最近的订单事件
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*domain.OrderEvent, error) {
	return s.events.ListByUser(ctx, userID, defaultListLimit)
}

// validate 校验下单参数
func validate(cmd PlaceOrderCommand) error {
	if cmd.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}

	switch cmd.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return fmt.Errorf("%w: invalid side %q", ErrValidation, cmd.Side)
	}

	switch cmd.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStopMarket:
	default:
		return fmt.Errorf("%w: invalid order type %q", ErrValidation, cmd.Type)
	}

	if !cmd.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	if cmd.Type == domain.OrderTypeLimit && !cmd.Price.IsPositive() {
		return fmt.Errorf("%w: price is required for LIMIT orders", ErrValidation)
	}

	return nil
}
