package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingpipeline/internal/notification/application"
	"github.com/wyfcoding/tradingpipeline/internal/notification/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

type captureConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) first() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[0]
}

func TestCombinedURL(t *testing.T) {
	feed := New(nil, "wss://stream.example.com", []string{"BTCUSDT", "ethusdt"})
	assert.Equal(t, "wss://stream.example.com/stream?streams=btcusdt@ticker/ethusdt@ticker", feed.combinedURL())
}

func TestFeedBroadcastsPriceUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"stream": "btcusdt@ticker",
			"data": {"s": "BTCUSDT", "c": "43000.50", "P": "1.25"}
		}`))
		<-r.Context().Done()
	}))
	defer srv.Close()

	hub := application.NewHub(metrics.New("pricefeed_test"))
	conn := &captureConn{}
	hub.Register("user-1", conn)

	feed := New(hub, "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"btcusdt"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return conn.first() != nil }, 2*time.Second, 10*time.Millisecond)

	msg, err := domain.DecodeMessage(conn.first())
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypePriceUpdate, msg.Type)

	var update domain.PriceUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	assert.Equal(t, "BTCUSDT", update.Symbol)
	assert.Equal(t, "43000.50", update.Price)
	assert.Equal(t, "1.25", update.ChangePercent)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after context cancellation")
	}
}
