// Package application 实现订单命令的异步执行器。
//
// 执行器从总线消费订单命令，解密用户凭证，同步调用交易所下单，
// 把结果物化为订单事件：先落库，再更新命令状态，最后发布到事件
// 频道。每条被消费的命令恰好产生一条终态事件；重复投递通过命令
// 终态去重丢弃。
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/tradingpipeline/internal/execution/domain"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/internal/vault"
	"github.com/wyfcoding/tradingpipeline/pkg/bus"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

// MessageBus 执行器依赖的总线能力
type MessageBus interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channel string, handler bus.Handler) error
}

// Config 执行器配置
type Config struct {
	// 最大并发处理命令数
	MaxConcurrent int
	// 单次交易所下单超时
	SubmitTimeout time.Duration
	// 存储不可用时的重试最长持续时间
	StoreRetryMaxElapsed time.Duration
}

// Worker 订单执行器
type Worker struct {
	commands    orderdomain.CommandRepository
	events      orderdomain.EventRepository
	credentials orderdomain.CredentialRepository
	vault       *vault.Vault
	exchange    domain.ExchangeClient
	bus         MessageBus
	metrics     *metrics.Metrics
	cfg         Config

	// 有界并发信号量
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorker 创建执行器
func NewWorker(
	commands orderdomain.CommandRepository,
	events orderdomain.EventRepository,
	credentials orderdomain.CredentialRepository,
	v *vault.Vault,
	exchange domain.ExchangeClient,
	msgBus MessageBus,
	m *metrics.Metrics,
	cfg Config,
) *Worker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.StoreRetryMaxElapsed <= 0 {
		cfg.StoreRetryMaxElapsed = 30 * time.Second
	}

	return &Worker{
		commands:    commands,
		events:      events,
		credentials: credentials,
		vault:       v,
		exchange:    exchange,
		bus:         msgBus,
		metrics:     m,
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start 订阅命令频道并阻塞消费，直到 ctx 取消。
// 返回后调用方应调用 Wait 等待在途命令完成。
func (w *Worker) Start(ctx context.Context) error {
	logger.Info(ctx, "Execution worker starting",
		"max_concurrent", w.cfg.MaxConcurrent, "submit_timeout", w.cfg.SubmitTimeout)
	return w.bus.Subscribe(ctx, orderdomain.ChannelOrderSubmit, w.handleMessage)
}

// Wait 等待所有在途命令处理完毕
func (w *Worker) Wait() {
	w.wg.Wait()
}

// handleMessage 解析命令消息并在信号量许可下异步处理
func (w *Worker) handleMessage(ctx context.Context, payload []byte) error {
	var cmd orderdomain.OrderCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logger.Error(ctx, "Discarding malformed order command", "error", err)
		return fmt.Errorf("failed to decode order command: %w", err)
	}
	if cmd.OrderID == "" || cmd.UserID == "" {
		logger.Error(ctx, "Discarding order command without identity", "order_id", cmd.OrderID)
		return fmt.Errorf("order command missing orderId or userId")
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(ctx, &cmd)
	}()
	return nil
}

// process 处理单条订单命令，恰好产生一条终态事件（重复投递除外）
func (w *Worker) process(ctx context.Context, cmd *orderdomain.OrderCommand) {
	w.metrics.CommandsConsumed.Inc()
	logger.Info(ctx, "Processing order command",
		"order_id", cmd.OrderID, "user_id", cmd.UserID, "symbol", cmd.Symbol)

	// 去重：命令已处于终态说明是总线重投，直接丢弃
	stored, err := w.retryCommandGet(ctx, cmd.OrderID)
	if err != nil {
		logger.Error(ctx, "Order command lookup failed, command not processed",
			"order_id", cmd.OrderID, "error", err)
		return
	}
	if stored != nil && stored.Status.IsTerminal() {
		logger.Warn(ctx, "Duplicate order command discarded",
			"order_id", cmd.OrderID, "status", stored.Status)
		return
	}

	result, execErr := w.execute(ctx, cmd)

	event := &orderdomain.OrderEvent{
		OrderID:    cmd.OrderID,
		UserID:     cmd.UserID,
		Symbol:     cmd.Symbol,
		Side:       cmd.Side,
		Quantity:   cmd.Quantity,
		OccurredAt: time.Now(),
	}
	if execErr != nil {
		event.Status = orderdomain.OrderStatusRejected
		event.Error = execErr.Error()
	} else {
		event.Status = domain.ClassifyStatus(result.Status)
		event.ExchangeOrderID = result.ExchangeOrderID
		event.ExecutedQty = result.ExecutedQty
		event.Price = domain.AverageFillPrice(result.Fills)
	}

	w.emit(ctx, event)
}

// execute 解密凭证并调用交易所。
// 返回错误意味着订单被拒绝；错误信息原样进入事件。
// 凭证明文只在本函数作用域内存在，不写日志。
// 交易所提交绝不重试：提交不是幂等操作，重试可能导致重复成交。
func (w *Worker) execute(ctx context.Context, cmd *orderdomain.OrderCommand) (*domain.ExecutionResult, error) {
	cred, err := w.retryCredentialGet(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("credential lookup failed: %s", err.Error())
	}
	if cred == nil {
		return nil, domain.ErrUserNotFound
	}

	apiKey, err := w.vault.Decrypt(cred.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("credential decryption failed: %s", err.Error())
	}
	secretKey, err := w.vault.Decrypt(cred.EncryptedSecretKey)
	if err != nil {
		return nil, fmt.Errorf("credential decryption failed: %s", err.Error())
	}

	submitCtx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	defer cancel()

	return w.exchange.Submit(submitCtx, domain.OrderRequest{
		Symbol:   cmd.Symbol,
		Side:     cmd.Side,
		Type:     cmd.Type,
		Quantity: cmd.Quantity,
		Price:    cmd.Price,
	}, apiKey, secretKey)
}

// emit 物化终态事件：先落库，再更新命令状态，最后发布。
// 事件未落库成功前绝不发布；发布失败只记录，事实来源是存储。
func (w *Worker) emit(ctx context.Context, event *orderdomain.OrderEvent) {
	if err := w.retryStore(ctx, "event.create", func() error {
		return w.events.Create(ctx, event)
	}); err != nil {
		logger.Error(ctx, "Order event lost: store unavailable beyond retry budget",
			"order_id", event.OrderID, "status", event.Status, "error", err)
		return
	}

	if err := w.retryStore(ctx, "command.update_status", func() error {
		return w.commands.UpdateStatus(ctx, event.OrderID, event.Status)
	}); err != nil {
		logger.Error(ctx, "Failed to update command status",
			"order_id", event.OrderID, "status", event.Status, "error", err)
	}

	if err := w.bus.Publish(ctx, orderdomain.ChannelOrderStatus, event); err != nil {
		logger.Error(ctx, "Failed to publish order event",
			"order_id", event.OrderID, "error", err)
	}

	w.metrics.EventsTotal.WithLabelValues(string(event.Status)).Inc()
	logger.Info(ctx, "Order command settled",
		"order_id", event.OrderID, "status", event.Status, "executed_qty", event.ExecutedQty)
}

// retryStore 对存储写入做指数退避重试。存储不可用时阻塞当前命令，
// 形成对消费速度的背压；超出重试预算后放弃并交给上层记录。
func (w *Worker) retryStore(ctx context.Context, op string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := fn(); err != nil {
			w.metrics.StoreRetriesTotal.Inc()
			logger.Warn(ctx, "Store operation failed, retrying", "op", op, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxElapsedTime(w.cfg.StoreRetryMaxElapsed))
	return err
}

// retryCommandGet 带退避的命令查询
func (w *Worker) retryCommandGet(ctx context.Context, orderID string) (*orderdomain.OrderCommand, error) {
	var cmd *orderdomain.OrderCommand
	err := w.retryStore(ctx, "command.get", func() error {
		var err error
		cmd, err = w.commands.Get(ctx, orderID)
		return err
	})
	return cmd, err
}

// retryCredentialGet 带退避的凭证查询
func (w *Worker) retryCredentialGet(ctx context.Context, userID string) (*orderdomain.Credential, error) {
	var cred *orderdomain.Credential
	err := w.retryStore(ctx, "credential.get", func() error {
		var err error
		cred, err = w.credentials.Get(ctx, userID)
		return err
	})
	return cred, err
}
