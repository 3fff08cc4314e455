package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/tradingpipeline/internal/execution/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
)

// BreakerClient 在交易所客户端外包一层熔断器。
// 交易所持续不可达时快速失败，避免每条命令都等满超时。
// 熔断拒绝与交易所失败一样映射为 ErrExecutionFailed，
// 对应订单被标记为 REJECTED，不会重试。
type BreakerClient struct {
	inner   domain.ExchangeClient
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient 包装交易所客户端
func NewBreakerClient(inner domain.ExchangeClient) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Exchange circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Submit 实现 domain.ExchangeClient.Submit
func (c *BreakerClient) Submit(ctx context.Context, req domain.OrderRequest, apiKey, secretKey string) (*domain.ExecutionResult, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.Submit(ctx, req, apiKey, secretKey)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: exchange circuit open", domain.ErrExecutionFailed)
		}
		return nil, err
	}
	return result.(*domain.ExecutionResult), nil
}
