package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wyfcoding/tradingpipeline/internal/notification/domain"
	orderapp "github.com/wyfcoding/tradingpipeline/internal/order/application"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

// seenCapacity 去重窗口大小
const seenCapacity = 4096

// EventConsumer 消费订单事件频道，把终态推送给在线用户。
// 推送是 best-effort 的：用户不在线时事件直接丢弃，
// 历史仍可通过订单查询接口获取。
type EventConsumer struct {
	hub       *Hub
	positions orderapp.PositionAggregator
	metrics   *metrics.Metrics

	// 按 orderId 去重总线重投
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewEventConsumer 创建事件消费器
func NewEventConsumer(hub *Hub, positions orderapp.PositionAggregator, m *metrics.Metrics) *EventConsumer {
	return &EventConsumer{
		hub:       hub,
		positions: positions,
		metrics:   m,
		seen:      make(map[string]struct{}, seenCapacity),
	}
}

// HandleEvent 处理一条订单事件消息
func (c *EventConsumer) HandleEvent(ctx context.Context, payload []byte) error {
	var event orderdomain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode order event: %w", err)
	}
	if event.OrderID == "" || event.UserID == "" {
		return fmt.Errorf("order event missing orderId or userId")
	}

	if c.isDuplicate(event.OrderID) {
		logger.Debug(ctx, "Duplicate order event ignored", "order_id", event.OrderID)
		return nil
	}

	c.push(ctx, event.UserID, domain.MessageTypeOrderUpdate, &event)

	// 成交改变持仓，附带推送重算后的持仓快照
	if event.IsFill() {
		positions, err := c.positions.Positions(ctx, event.UserID)
		if err != nil {
			logger.Error(ctx, "Failed to aggregate positions for push", "user_id", event.UserID, "error", err)
			return nil
		}
		c.push(ctx, event.UserID, domain.MessageTypePositionUpdate, positions)
	}
	return nil
}

// push 序列化并发送一帧消息
func (c *EventConsumer) push(ctx context.Context, userID string, msgType domain.MessageType, payload any) {
	msg, err := domain.NewMessage(msgType, payload)
	if err != nil {
		logger.Error(ctx, "Failed to build push message", "type", msgType, "error", err)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		logger.Error(ctx, "Failed to encode push message", "type", msgType, "error", err)
		return
	}

	if c.hub.Send(userID, data) {
		c.metrics.NotificationsDelivered.Inc()
	} else {
		c.metrics.NotificationsDropped.Inc()
	}
}

// isDuplicate 记录并检测重复的 orderId，窗口满时淘汰最旧条目
func (c *EventConsumer) isDuplicate(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[orderID]; ok {
		return true
	}
	c.seen[orderID] = struct{}{}
	c.order = append(c.order, orderID)
	if len(c.order) > seenCapacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return false
}
