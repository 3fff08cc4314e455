package application

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	err    error
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestHub() *Hub {
	return NewHub(metrics.New("hub_test"))
}

func TestHubSendToRegisteredUser(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{}
	hub.Register("user-1", conn)

	assert.True(t, hub.Send("user-1", []byte("hello")))
	assert.Equal(t, 1, conn.sentCount())
}

func TestHubSendToAbsentUserDropsMessage(t *testing.T) {
	hub := newTestHub()
	assert.False(t, hub.Send("ghost", []byte("hello")))
}

func TestHubRegisterReplacesAndClosesOldConnection(t *testing.T) {
	hub := newTestHub()
	old := &fakeConn{}
	hub.Register("user-1", old)

	replacement := &fakeConn{}
	hub.Register("user-1", replacement)

	assert.True(t, old.isClosed())
	assert.Equal(t, 1, hub.Count())

	// 消息走新连接
	assert.True(t, hub.Send("user-1", []byte("hello")))
	assert.Equal(t, 0, old.sentCount())
	assert.Equal(t, 1, replacement.sentCount())
}

func TestHubUnregisterOnlyRemovesOwnConnection(t *testing.T) {
	hub := newTestHub()
	old := &fakeConn{}
	hub.Register("user-1", old)

	replacement := &fakeConn{}
	hub.Register("user-1", replacement)

	// 旧连接的延迟注销不得移除新连接
	hub.Unregister("user-1", old)
	assert.Equal(t, 1, hub.Count())
	assert.True(t, hub.Send("user-1", []byte("hello")))

	hub.Unregister("user-1", replacement)
	assert.Equal(t, 0, hub.Count())
}

func TestHubSendFailureReportsDropped(t *testing.T) {
	hub := newTestHub()
	conn := &fakeConn{err: errors.New("connection reset")}
	hub.Register("user-1", conn)

	assert.False(t, hub.Send("user-1", []byte("hello")))
}

func TestHubBroadcast(t *testing.T) {
	hub := newTestHub()
	a := &fakeConn{}
	b := &fakeConn{}
	broken := &fakeConn{err: errors.New("gone")}
	hub.Register("a", a)
	hub.Register("b", b)
	hub.Register("c", broken)

	hub.Broadcast([]byte("tick"))

	assert.Equal(t, 1, a.sentCount())
	assert.Equal(t, 1, b.sentCount())
}
