package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/tradingpipeline/internal/execution/domain"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/bus"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

type fakeCommandRepo struct {
	mu       sync.Mutex
	commands map[string]*orderdomain.OrderCommand
	getErr   error
}

func newFakeCommandRepo() *fakeCommandRepo {
	return &fakeCommandRepo{commands: make(map[string]*orderdomain.OrderCommand)}
}

func (r *fakeCommandRepo) Create(_ context.Context, cmd *orderdomain.OrderCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.OrderID] = cmd
	return nil
}

func (r *fakeCommandRepo) Get(_ context.Context, orderID string) (*orderdomain.OrderCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.commands[orderID], nil
}

func (r *fakeCommandRepo) UpdateStatus(_ context.Context, orderID string, status orderdomain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd, ok := r.commands[orderID]; ok {
		cmd.Status = status
	}
	return nil
}

func (r *fakeCommandRepo) status(orderID string) orderdomain.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd, ok := r.commands[orderID]; ok {
		return cmd.Status
	}
	return ""
}

type fakeEventRepo struct {
	mu        sync.Mutex
	events    []*orderdomain.OrderEvent
	createErr error
}

func (r *fakeEventRepo) Create(_ context.Context, event *orderdomain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *fakeEventRepo) ListByUser(_ context.Context, _ string, _ int) ([]*orderdomain.OrderEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) ListFillsByUser(_ context.Context, _ string) ([]*orderdomain.OrderEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) all() []*orderdomain.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*orderdomain.OrderEvent(nil), r.events...)
}

type fakeCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]*orderdomain.Credential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[string]*orderdomain.Credential)}
}

func (r *fakeCredentialRepo) Save(_ context.Context, cred *orderdomain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.UserID] = cred
	return nil
}

func (r *fakeCredentialRepo) Get(_ context.Context, userID string) (*orderdomain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[userID], nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	channel string
	payload []byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{channel: channel, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, _ string, _ bus.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBus) messages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

type fakeExchange struct {
	mu         sync.Mutex
	calls      int32
	inFlight   int32
	maxFlight  int32
	block      chan struct{}
	result     *domain.ExecutionResult
	err        error
	gotAPIKey  string
	gotSecret  string
	gotRequest domain.OrderRequest
}

func (e *fakeExchange) Submit(ctx context.Context, req domain.OrderRequest, apiKey, secretKey string) (*domain.ExecutionResult, error) {
	atomic.AddInt32(&e.calls, 1)
	cur := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		old := atomic.LoadInt32(&e.maxFlight)
		if cur <= old || atomic.CompareAndSwapInt32(&e.maxFlight, old, cur) {
			break
		}
	}
	if e.block != nil {
		<-e.block
	}

	e.mu.Lock()
	e.gotAPIKey = apiKey
	e.gotSecret = secretKey
	e.gotRequest = req
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type workerFixture struct {
	worker      *Worker
	commands    *fakeCommandRepo
	events      *fakeEventRepo
	credentials *fakeCredentialRepo
	bus         *fakeBus
	exchange    *fakeExchange
	vault       *vault.Vault
}

func newWorkerFixture(t *testing.T, exchange *fakeExchange, cfg Config) *workerFixture {
	t.Helper()
	v := vault.New("worker-test-encryption-key")

	f := &workerFixture{
		commands:    newFakeCommandRepo(),
		events:      &fakeEventRepo{},
		credentials: newFakeCredentialRepo(),
		bus:         &fakeBus{},
		exchange:    exchange,
		vault:       v,
	}
	f.worker = NewWorker(f.commands, f.events, f.credentials, f.vault, f.exchange, f.bus, metrics.New("worker_test"), cfg)
	return f
}

// seedUser 写入加密凭证
func (f *workerFixture) seedUser(t *testing.T, userID string) {
	t.Helper()
	encKey, err := f.vault.Encrypt("user-api-key")
	require.NoError(t, err)
	encSecret, err := f.vault.Encrypt("user-secret-key")
	require.NoError(t, err)
	require.NoError(t, f.credentials.Save(context.Background(), &orderdomain.Credential{
		UserID:             userID,
		EncryptedAPIKey:    encKey,
		EncryptedSecretKey: encSecret,
	}))
}

// deliver 模拟总线投递一条命令并等待处理完毕
func (f *workerFixture) deliver(t *testing.T, cmd *orderdomain.OrderCommand) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, f.worker.handleMessage(context.Background(), payload))
	f.worker.Wait()
}

func testCommand(orderID string) *orderdomain.OrderCommand {
	return &orderdomain.OrderCommand{
		OrderID:     orderID,
		UserID:      "user-1",
		Symbol:      "BTCUSDT",
		Side:        orderdomain.OrderSideBuy,
		Type:        orderdomain.OrderTypeMarket,
		Quantity:    decimal.NewFromInt(1),
		Status:      orderdomain.OrderStatusPending,
		SubmittedAt: time.Now(),
	}
}

func TestWorkerFilledOrder(t *testing.T) {
	exchange := &fakeExchange{result: &domain.ExecutionResult{
		ExchangeOrderID: 9001,
		Status:          "FILLED",
		ExecutedQty:     decimal.NewFromInt(1),
		Fills: []domain.Fill{
			{Price: decimal.NewFromInt(100), Qty: decimal.NewFromFloat(0.5)},
			{Price: decimal.NewFromInt(102), Qty: decimal.NewFromFloat(0.5)},
		},
	}}
	f := newWorkerFixture(t, exchange, Config{})
	f.seedUser(t, "user-1")

	cmd := testCommand("order-1")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, orderdomain.OrderStatusFilled, events[0].Status)
	assert.Equal(t, int64(9001), events[0].ExchangeOrderID)
	assert.True(t, events[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, events[0].ExecutedQty.Equal(decimal.NewFromInt(1)))
	assert.Empty(t, events[0].Error)

	// 命令状态镜像事件终态
	assert.Equal(t, orderdomain.OrderStatusFilled, f.commands.status("order-1"))

	// 事件发布到状态频道
	msgs := f.bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, orderdomain.ChannelOrderStatus, msgs[0].channel)
	var published orderdomain.OrderEvent
	require.NoError(t, json.Unmarshal(msgs[0].payload, &published))
	assert.Equal(t, "order-1", published.OrderID)

	// 凭证已解密传给交易所
	assert.Equal(t, "user-api-key", exchange.gotAPIKey)
	assert.Equal(t, "user-secret-key", exchange.gotSecret)
}

func TestWorkerNonFilledStatusBecomesPartiallyFilled(t *testing.T) {
	exchange := &fakeExchange{result: &domain.ExecutionResult{
		ExchangeOrderID: 9002,
		Status:          "NEW",
		ExecutedQty:     decimal.Zero,
	}}
	f := newWorkerFixture(t, exchange, Config{})
	f.seedUser(t, "user-1")

	cmd := testCommand("order-2")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, orderdomain.OrderStatusPartiallyFilled, events[0].Status)
	assert.True(t, events[0].Price.IsZero())
}

func TestWorkerUnknownUserRejected(t *testing.T) {
	exchange := &fakeExchange{}
	f := newWorkerFixture(t, exchange, Config{})

	cmd := testCommand("order-3")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, orderdomain.OrderStatusRejected, events[0].Status)
	assert.Contains(t, events[0].Error, "user not found")
	assert.Equal(t, orderdomain.OrderStatusRejected, f.commands.status("order-3"))

	// 没有凭证时绝不触达交易所
	assert.Equal(t, int32(0), atomic.LoadInt32(&exchange.calls))
}

func TestWorkerDecryptFailureRejectedWithoutRetry(t *testing.T) {
	exchange := &fakeExchange{}
	f := newWorkerFixture(t, exchange, Config{})
	require.NoError(t, f.credentials.Save(context.Background(), &orderdomain.Credential{
		UserID:             "user-1",
		EncryptedAPIKey:    "corrupted",
		EncryptedSecretKey: "corrupted",
	}))

	cmd := testCommand("order-4")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, orderdomain.OrderStatusRejected, events[0].Status)
	assert.Contains(t, events[0].Error, "credential decryption failed")
	assert.Equal(t, int32(0), atomic.LoadInt32(&exchange.calls))
}

func TestWorkerExchangeFailureRejectedVerbatim(t *testing.T) {
	exchange := &fakeExchange{err: errors.New("execution failed: Account has insufficient balance")}
	f := newWorkerFixture(t, exchange, Config{})
	f.seedUser(t, "user-1")

	cmd := testCommand("order-5")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, orderdomain.OrderStatusRejected, events[0].Status)
	assert.Equal(t, "execution failed: Account has insufficient balance", events[0].Error)

	// 交易所提交不是幂等操作，失败后绝不重试
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchange.calls))
}

func TestWorkerDuplicateCommandDiscarded(t *testing.T) {
	exchange := &fakeExchange{result: &domain.ExecutionResult{Status: "FILLED", ExecutedQty: decimal.NewFromInt(1)}}
	f := newWorkerFixture(t, exchange, Config{})
	f.seedUser(t, "user-1")

	cmd := testCommand("order-6")
	cmd.Status = orderdomain.OrderStatusFilled
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	assert.Empty(t, f.events.all())
	assert.Empty(t, f.bus.messages())
	assert.Equal(t, int32(0), atomic.LoadInt32(&exchange.calls))
}

func TestWorkerUnpersistedEventNeverPublished(t *testing.T) {
	exchange := &fakeExchange{result: &domain.ExecutionResult{Status: "FILLED", ExecutedQty: decimal.NewFromInt(1)}}
	f := newWorkerFixture(t, exchange, Config{StoreRetryMaxElapsed: 50 * time.Millisecond})
	f.events.createErr = errors.New("store unavailable")
	f.seedUser(t, "user-1")

	cmd := testCommand("order-7")
	require.NoError(t, f.commands.Create(context.Background(), cmd))
	f.deliver(t, cmd)

	// 事件未落库成功，不得发布，命令保持 PENDING
	assert.Empty(t, f.bus.messages())
	assert.Equal(t, orderdomain.OrderStatusPending, f.commands.status("order-7"))
}

func TestWorkerMalformedPayloadDiscarded(t *testing.T) {
	f := newWorkerFixture(t, &fakeExchange{}, Config{})

	err := f.worker.handleMessage(context.Background(), []byte("not json"))
	assert.Error(t, err)

	err = f.worker.handleMessage(context.Background(), []byte(`{"symbol":"BTCUSDT"}`))
	assert.Error(t, err)
}

func TestWorkerBoundedConcurrency(t *testing.T) {
	exchange := &fakeExchange{
		block:  make(chan struct{}),
		result: &domain.ExecutionResult{Status: "FILLED", ExecutedQty: decimal.NewFromInt(1)},
	}
	f := newWorkerFixture(t, exchange, Config{MaxConcurrent: 2})
	f.seedUser(t, "user-1")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		cmd := testCommand("order-c" + string(rune('0'+i)))
		require.NoError(t, f.commands.Create(ctx, cmd))
		payload, err := json.Marshal(cmd)
		require.NoError(t, err)
		require.NoError(t, f.worker.handleMessage(ctx, payload))
	}

	// 第三条命令在两个槽位占满时必须阻塞在信号量上
	cmd := testCommand("order-c2")
	require.NoError(t, f.commands.Create(ctx, cmd))
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.worker.handleMessage(blockedCtx, payload), context.DeadlineExceeded)

	close(exchange.block)
	f.worker.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&exchange.maxFlight), int32(2))
	assert.Len(t, f.events.all(), 2)
}
