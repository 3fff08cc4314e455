// Package domain 包含订单管道的领域模型：订单命令、订单事件与用户凭证
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 总线频道。消息体为实体的 JSON 序列化形式。
const (
	// ChannelOrderSubmit 订单提交命令频道
	ChannelOrderSubmit = "commands:order:submit"
	// ChannelOrderStatus 订单状态事件频道
	ChannelOrderStatus = "events:order:status"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal 是否为终态。终态之后不再发生任何状态迁移。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderSide 买卖方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderCommand 订单命令实体。
// 发布后不可变；持久化的 Status 字段镜像最新的 OrderEvent，
// 由 Execution Worker 从 PENDING 一次性更新为终态，永不删除。
type OrderCommand struct {
	gorm.Model `json:"-"`
	// 订单 ID，客户端生成，全局唯一
	OrderID string `gorm:"column:order_id;type:varchar(36);uniqueIndex;not null" json:"orderId"`
	// 所属用户 ID
	UserID string `gorm:"column:user_id;type:varchar(36);index;not null" json:"userId"`
	// 交易对符号
	Symbol string `gorm:"column:symbol;type:varchar(20);not null" json:"symbol"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 订单类型
	Type OrderType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	// 委托数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	// 委托价格，仅 LIMIT 单必填
	Price decimal.Decimal `gorm:"column:price;type:decimal(20,8)" json:"price,omitempty"`
	// 当前状态
	Status OrderStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 提交时间
	SubmittedAt time.Time `gorm:"column:submitted_at;not null" json:"submittedAt"`
}

// TableName 指定表名
func (OrderCommand) TableName() string {
	return "order_commands"
}

// OrderEvent 订单事件实体，追加写入。
// 一条 OrderEvent 是一条 OrderCommand 的终态结果；总线重投可能
// 产生 orderId 相同的重复消息，消费方必须自行去重。
type OrderEvent struct {
	gorm.Model `json:"-"`
	// 对应的订单 ID
	OrderID string `gorm:"column:order_id;type:varchar(36);index;not null" json:"orderId"`
	// 所属用户 ID
	UserID string `gorm:"column:user_id;type:varchar(36);index;not null" json:"userId"`
	// 终态
	Status OrderStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	// 交易对符号
	Symbol string `gorm:"column:symbol;type:varchar(20);not null" json:"symbol"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 委托数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	// 实际成交数量
	ExecutedQty decimal.Decimal `gorm:"column:executed_qty;type:decimal(20,8)" json:"executedQty,omitempty"`
	// 成交量加权平均成交价
	Price decimal.Decimal `gorm:"column:price;type:decimal(20,8)" json:"price,omitempty"`
	// 交易所订单 ID
	ExchangeOrderID int64 `gorm:"column:exchange_order_id" json:"exchangeOrderId,omitempty"`
	// 失败原因（REJECTED 时非空）
	Error string `gorm:"column:error;type:text" json:"error,omitempty"`
	// 事件发生时间
	OccurredAt time.Time `gorm:"column:occurred_at;not null" json:"occurredAt"`
}

// TableName 指定表名
func (OrderEvent) TableName() string {
	return "order_events"
}

// IsFill 事件是否带有成交（用于持仓聚合）
func (e *OrderEvent) IsFill() bool {
	return e.Status == OrderStatusFilled || e.Status == OrderStatusPartiallyFilled
}

// Credential 用户的交易所凭证。
// 密钥只以密文落库，仅在 Execution Worker 执行单笔订单期间解密，
// 不写日志，不经由任何接口返回。
type Credential struct {
	gorm.Model `json:"-"`
	// 所属用户 ID
	UserID string `gorm:"column:user_id;type:varchar(36);uniqueIndex;not null" json:"-"`
	// 加密后的 API Key
	EncryptedAPIKey string `gorm:"column:encrypted_api_key;type:text;not null" json:"-"`
	// 加密后的 Secret Key
	EncryptedSecretKey string `gorm:"column:encrypted_secret_key;type:text;not null" json:"-"`
}

// TableName 指定表名
func (Credential) TableName() string {
	return "credentials"
}

// CommandRepository 订单命令仓储接口
type CommandRepository interface {
	// 创建命令记录
	Create(ctx context.Context, cmd *OrderCommand) error
	// 按订单 ID 查询，不存在时返回 (nil, nil)
	Get(ctx context.Context, orderID string) (*OrderCommand, error)
	// 更新命令状态
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error
}

// EventRepository 订单事件仓储接口
type EventRepository interface {
	// 追加事件记录
	Create(ctx context.Context, event *OrderEvent) error
	// 按用户查询最近的事件，按发生时间倒序
	ListByUser(ctx context.Context, userID string, limit int) ([]*OrderEvent, error)
	// 按用户查询全部成交事件（FILLED/PARTIALLY_FILLED），按发生时间升序
	ListFillsByUser(ctx context.Context, userID string) ([]*OrderEvent, error)
}

// CredentialRepository 凭证仓储接口
type CredentialRepository interface {
	// 保存（或覆盖）用户凭证
	Save(ctx context.Context, cred *Credential) error
	// 按用户 ID 查询，不存在时返回 (nil, nil)
	Get(ctx context.Context, userID string) (*Credential, error)
}
