// Package exchange 提供交易所 REST 执行客户端。
//
// 签名协议：请求参数按插入顺序拼接为 query string，对其计算
// HMAC-SHA256（十六进制小写），以 signature 参数追加在末尾；
// API Key 经由 X-MBX-APIKEY 请求头传递，绝不进入请求体或参数。
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingpipeline/internal/execution/domain"
	orderdomain "github.com/wyfcoding/tradingpipeline/internal/order/domain"
	"github.com/wyfcoding/tradingpipeline/pkg/logger"
	"github.com/wyfcoding/tradingpipeline/pkg/metrics"
)

const orderEndpoint = "/fapi/v1/order"

// Client 交易所执行客户端，实现 domain.ExchangeClient
type Client struct {
	http    *resty.Client
	baseURL string
	metrics *metrics.Metrics
	// 便于测试注入固定时间戳
	now func() time.Time
}

// NewClient 创建交易所客户端。
// 客户端自身不做超时重试：订单提交不是幂等操作，重试可能导致重复成交。
func NewClient(baseURL string, m *metrics.Metrics) *Client {
	http := resty.New().
		SetRetryCount(0).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &Client{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: m,
		now:     time.Now,
	}
}

// param 保持插入顺序的键值对
type param struct {
	key   string
	value string
}

// buildQuery 按插入顺序拼接参数。值均为受控格式（符号、枚举、
// 定点小数、整数），不做 URL 转义，避免破坏签名基串。
func buildQuery(params []param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(p.value)
	}
	return sb.String()
}

// sign 对 query string 计算 HMAC-SHA256 签名
func sign(query, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// orderResponse 交易所下单响应体
type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	Fills       []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// errorResponse 交易所错误响应体
type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Submit 实现 domain.ExchangeClient.Submit。
// 所有失败模式（HTTP 错误、超时、响应不可解析）统一映射为
// ErrExecutionFailed 并携带上游错误信息。
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest, apiKey, secretKey string) (*domain.ExecutionResult, error) {
	params := []param{
		{"symbol", req.Symbol},
		{"side", string(req.Side)},
		{"type", string(req.Type)},
		{"timestamp", fmt.Sprintf("%d", c.now().UnixMilli())},
		{"quantity", req.Quantity.StringFixed(8)},
	}
	if req.Type == orderdomain.OrderTypeLimit {
		params = append(params,
			param{"price", req.Price.StringFixed(8)},
			param{"timeInForce", "GTC"},
		)
	}

	query := buildQuery(params)
	query = query + "&signature=" + sign(query, secretKey)

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", apiKey).
		Post(c.baseURL + orderEndpoint + "?" + query)
	if c.metrics != nil {
		c.metrics.ExchangeRequestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logger.Error(ctx, "Exchange request failed", "symbol", req.Symbol, "error", err)
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionFailed, err.Error())
	}

	if resp.IsError() {
		var errBody errorResponse
		msg := resp.String()
		if jsonErr := json.Unmarshal(resp.Body(), &errBody); jsonErr == nil && errBody.Msg != "" {
			msg = errBody.Msg
		}
		logger.Error(ctx, "Exchange rejected order", "symbol", req.Symbol, "status", resp.StatusCode(), "message", msg)
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionFailed, msg)
	}

	var body orderResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: unparseable exchange response: %s", domain.ErrExecutionFailed, err.Error())
	}

	result := &domain.ExecutionResult{
		ExchangeOrderID: body.OrderID,
		Status:          body.Status,
	}
	if body.ExecutedQty != "" {
		qty, err := decimal.NewFromString(body.ExecutedQty)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid executedQty %q", domain.ErrExecutionFailed, body.ExecutedQty)
		}
		result.ExecutedQty = qty
	}
	for _, f := range body.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fill price %q", domain.ErrExecutionFailed, f.Price)
		}
		qty, err := decimal.NewFromString(f.Qty)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fill qty %q", domain.ErrExecutionFailed, f.Qty)
		}
		result.Fills = append(result.Fills, domain.Fill{Price: price, Qty: qty})
	}

	logger.Info(ctx, "Order submitted to exchange",
		"symbol", req.Symbol, "exchange_order_id", result.ExchangeOrderID, "status", result.Status)
	return result, nil
}
