// Package application 维护在线 WebSocket 连接与消息分发
package application

import (
	"context"
	"sync"

	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

// Conn 单个客户端连接的发送端抽象
type Conn interface {
	// 发送一帧消息，并发调用必须安全
	Send(data []byte) error
	// 关闭连接
	Close() error
}

// Hub 按用户维护在线连接。
// 每个用户最多一条连接：新连接注册时旧连接被关闭并替换。
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	metrics *metrics.Metrics
}

// NewHub 创建连接中心
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		conns:   make(map[string]Conn),
		metrics: m,
	}
}

// Register 注册用户连接，替换并关闭同用户的旧连接
func (h *Hub) Register(userID string, conn Conn) {
	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if old != nil {
		old.Close()
		logger.Info(context.Background(), "Replaced existing connection", "user_id", userID)
	}
	h.metrics.LiveConnections.Set(float64(h.Count()))
}

// Unregister 注销用户连接。仅当当前注册的连接就是 conn 时移除，
// 避免旧连接的延迟断开误伤替换后的新连接。
func (h *Hub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	if h.conns[userID] == conn {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
	h.metrics.LiveConnections.Set(float64(h.Count()))
}

// Send 向指定用户发送消息。用户不在线时返回 false，消息丢弃。
func (h *Hub) Send(userID string, data []byte) bool {
	h.mu.RLock()
	conn := h.conns[userID]
	h.mu.RUnlock()

	if conn == nil {
		return false
	}
	if err := conn.Send(data); err != nil {
		logger.Warn(context.Background(), "Failed to send to connection", "user_id", userID, "error", err)
		return false
	}
	return true
}

// Broadcast 向所有在线连接发送消息
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			logger.Debug(context.Background(), "Broadcast send failed", "error", err)
		}
	}
}

// Count 当前在线连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
