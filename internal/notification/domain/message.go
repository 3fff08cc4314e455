// Package domain 定义实时推送的消息封包格式
package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType 推送消息类型
type MessageType string

const (
	// MessageTypeConnected 连接建立确认，升级成功后立即下发
	MessageTypeConnected MessageType = "CONNECTED"
	// MessageTypeOrderUpdate 订单终态事件
	MessageTypeOrderUpdate MessageType = "ORDER_UPDATE"
	// MessageTypePositionUpdate 成交后重算的持仓快照
	MessageTypePositionUpdate MessageType = "POSITION_UPDATE"
	// MessageTypePriceUpdate 行情价格更新
	MessageTypePriceUpdate MessageType = "PRICE_UPDATE"
)

// valid 消息类型是否已知
func (t MessageType) valid() bool {
	switch t {
	case MessageTypeConnected, MessageTypeOrderUpdate, MessageTypePositionUpdate, MessageTypePriceUpdate:
		return true
	}
	return false
}

// Message 推送消息封包。Payload 的具体结构由 Type 决定。
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage 构造指定类型的消息，payload 为 nil 时省略
func NewMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message payload: %w", err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Encode 序列化消息
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage 解析消息封包，类型未知时返回错误
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if !msg.Type.valid() {
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
	return &msg, nil
}

// PriceUpdate 行情价格更新的载荷
type PriceUpdate struct {
	// 交易对符号
	Symbol string `json:"symbol"`
	// 最新成交价
	Price string `json:"price"`
	// 24 小时涨跌幅（百分比）
	ChangePercent string `json:"changePercent"`
}
