// Package bus 提供基于 Redis Pub/Sub 的命令/事件总线封装。
//
// 投递语义为显式的 at-most-once：Publish 在 broker 接受后即返回，
// 不保证任何未在线订阅者收到消息，broker 重启期间的消息直接丢失，
// 也不做去重。订阅方必须以持久化存储为事实来源，总线仅作为低延迟
// 通知路径使用。
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
)

// Config 总线配置
type Config struct {
	Host                 string
	Port                 int
	Password             string
	DB                   int
	MaxPoolSize          int
	ReconnectMaxInterval int
}

// Handler 订阅回调。返回错误仅用于记录，消息不会被重投。
type Handler func(ctx context.Context, payload []byte) error

// Bus Redis Pub/Sub 总线实例
type Bus struct {
	client *redis.Client
	config Config
}

// New 创建总线实例并验证连通性
func New(cfg Config) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.MaxPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(context.Background(), "Message bus connected", "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))

	return &Bus{
		client: client,
		config: cfg,
	}, nil
}

// Publish 将消息序列化为 JSON 并发布到指定频道。
// 发布是 fire-and-forget 的：返回 nil 仅表示 broker 已接受。
func (b *Bus) Publish(ctx context.Context, channel string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		logger.Error(ctx, "Failed to publish message", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	logger.Debug(ctx, "Message published", "channel", channel, "bytes", len(payload))
	return nil
}

// Subscribe 订阅频道并阻塞消费，直到 ctx 取消。
// 连接断开时按指数退避重新订阅；断开期间到达的消息不会补投。
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for {
		sub, err := b.establish(ctx, channel)
		if err != nil {
			return err
		}

		logger.Info(ctx, "Subscribed to channel", "channel", channel)

		ch := sub.Channel()
	consume:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					// 连接丢失，退出内层循环后重新订阅
					break consume
				}
				if err := handler(ctx, []byte(msg.Payload)); err != nil {
					logger.Error(ctx, "Subscription handler failed", "channel", channel, "error", err)
				}
			}
		}

		sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(ctx, "Subscription lost, reconnecting", "channel", channel)
	}
}

// establish 建立订阅并等待 broker 确认，失败时按退避策略重试
func (b *Bus) establish(ctx context.Context, channel string) (*redis.PubSub, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = time.Duration(b.config.ReconnectMaxInterval) * time.Second

	return backoff.Retry(ctx, func() (*redis.PubSub, error) {
		sub := b.client.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			logger.Warn(ctx, "Failed to establish subscription, retrying", "channel", channel, "error", err)
			return nil, err
		}
		return sub, nil
	}, backoff.WithBackOff(expo))
}

// Client 暴露底层 Redis 客户端，供限流等共享同一连接池的组件使用
func (b *Bus) Client() *redis.Client {
	return b.client
}

// Ping 检查总线连通性
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close 关闭总线连接
func (b *Bus) Close() error {
	return b.client.Close()
}
