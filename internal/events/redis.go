package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBusConfig 描述 Redis 事件总线的连接参数。
type RedisBusConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// RedisBus 使用 Redis list 承载铸造事件。
type RedisBus struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisBus 创建 Redis 事件总线实例。
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "enclava:mint-events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisBus{client: client, key: key, wait: wait}, nil
}

// Publish 将事件投递到 Redis。
func (b *RedisBus) Publish(ctx context.Context, event MintEvent) error {
	body, err := event.Encode()
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.key, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := b.client.BRPop(ctx, b.wait, b.key).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- fmt.Errorf("Redis 取事件失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				event, decodeErr := DecodeMintEvent([]byte(values[1]))
				if decodeErr != nil {
					// 消息体损坏时丢弃，避免死循环。
					continue
				}
				if handlerErr := handler(ctx, event); handlerErr != nil {
					// 处理失败时重新投递事件。
					_ = b.client.RPush(ctx, b.key, []byte(values[1])).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
