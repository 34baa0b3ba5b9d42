package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// MintEvent 描述链上一次数据集 NFT 铸造完成。
type MintEvent struct {
	To          string `json:"to"`
	TokenID     uint64 `json:"token_id"`
	DatasetID   string `json:"dataset_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Encode 将事件序列化为队列消息体。
func (e MintEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化铸造事件失败: %w", err)
	}
	return data, nil
}

// DecodeMintEvent 解析队列消息体。
func DecodeMintEvent(data []byte) (MintEvent, error) {
	var event MintEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return MintEvent{}, fmt.Errorf("解析铸造事件失败: %w", err)
	}
	return event, nil
}

// Handler 处理来自事件总线的铸造事件。
type Handler func(ctx context.Context, event MintEvent) error

// Producer 负责向总线投递事件。
type Producer interface {
	Publish(ctx context.Context, event MintEvent) error
	Close() error
}

// Consumer 负责从总线消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备生产者与消费者能力。
type Bus interface {
	Producer
	Consumer
}
