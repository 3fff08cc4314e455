// Package ws 提供实时推送的 WebSocket 接入层
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wyfcoding/tradingpipeline/internal/notification/application"
	"github.com/wyfcoding/tradingpipeline/internal/notification/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/middleware"
)

const writeTimeout = 10 * time.Second

// Server WebSocket 接入服务
type Server struct {
	hub       *application.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

// NewServer 创建接入服务
func NewServer(hub *application.Hub, jwtSecret string) *Server {
	return &Server{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 浏览器客户端跨域接入，鉴权由 token 承担
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn 带写锁的连接包装，实现 application.Conn。
// gorilla/websocket 不允许并发写，事件推送与行情广播来自不同 goroutine。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send 实现 application.Conn.Send
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 实现 application.Conn.Close
func (c *wsConn) Close() error {
	return c.conn.Close()
}

// HandleWS 处理 WebSocket 升级请求。
// 客户端通过 token 查询参数携带 JWT；鉴权失败时先完成升级，
// 再以策略违规状态码（1008）关闭，客户端可以读到失败原因。
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	userID, err := middleware.ParseUserToken(r.URL.Query().Get("token"), s.jwtSecret)
	if err != nil {
		raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeTimeout))
		raw.Close()
		return
	}

	conn := &wsConn{conn: raw}
	s.hub.Register(userID, conn)
	logger.Info(r.Context(), "WebSocket client connected", "user_id", userID)

	// 连接确认帧
	if msg, err := domain.NewMessage(domain.MessageTypeConnected, nil); err == nil {
		if data, err := msg.Encode(); err == nil {
			conn.Send(data)
		}
	}

	// 读循环只用于感知断开，入站帧全部丢弃
	go func() {
		defer func() {
			s.hub.Unregister(userID, conn)
			raw.Close()
			logger.Info(r.Context(), "WebSocket client disconnected", "user_id", userID)
		}()
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
