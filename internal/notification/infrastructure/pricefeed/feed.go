// Package pricefeed 订阅交易所行情流并广播价格更新
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/wyfcoding/tradingpipeline/internal/notification/application"
	"github.com/wyfcoding/tradingpipeline/internal/notification/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
)

// Feed 交易所行情流客户端。
// 通过组合流订阅多个交易对的 ticker，把价格更新广播给所有在线连接。
// 行情是无状态推送，断线重连后不回补错过的更新。
type Feed struct {
	hub       *application.Hub
	streamURL string
	symbols   []string
}

// New 创建行情流客户端。symbols 为小写交易对符号，如 btcusdt。
func New(hub *application.Hub, streamURL string, symbols []string) *Feed {
	return &Feed{
		hub:       hub,
		streamURL: strings.TrimRight(streamURL, "/"),
		symbols:   symbols,
	}
}

// combinedURL 组合流地址：/stream?streams=btcusdt@ticker/ethusdt@ticker
func (f *Feed) combinedURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@ticker")
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.streamURL, strings.Join(streams, "/"))
}

// streamFrame 组合流消息封包
type streamFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol        string `json:"s"`
		LastPrice     string `json:"c"`
		ChangePercent string `json:"P"`
	} `json:"data"`
}

// Run 连接行情流并阻塞消费，断开时按指数退避重连，直到 ctx 取消
func (f *Feed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		logger.Warn(ctx, "Price feed disabled: no ticker symbols configured")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		conn, err := f.connect(ctx)
		if err != nil {
			return err
		}

		f.consume(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(ctx, "Price feed disconnected, reconnecting")
	}
}

// connect 建立行情流连接，失败时按退避策略重试
func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	url := f.combinedURL()
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			logger.Warn(ctx, "Failed to connect price feed, retrying", "url", url, "error", err)
			return nil, err
		}
		logger.Info(ctx, "Price feed connected", "url", url, "symbols", len(f.symbols))
		return conn, nil
	}, backoff.WithBackOff(expo))
}

// consume 消费行情帧直到连接断开或 ctx 取消
func (f *Feed) consume(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			logger.Debug(ctx, "Discarding malformed ticker frame", "error", err)
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		msg, err := domain.NewMessage(domain.MessageTypePriceUpdate, domain.PriceUpdate{
			Symbol:        frame.Data.Symbol,
			Price:         frame.Data.LastPrice,
			ChangePercent: frame.Data.ChangePercent,
		})
		if err != nil {
			continue
		}
		data, err := msg.Encode()
		if err != nil {
			continue
		}
		f.hub.Broadcast(data)
	}
}
