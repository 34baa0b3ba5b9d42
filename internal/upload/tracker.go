package upload

import (
	"context"
	"log/slog"

	"Enclava-Chain/internal/events"
	"Enclava-Chain/pkg/logger"
)

// Tracker 消费铸造事件，把链上确认回填到发布记录。
type Tracker struct {
	service  *Service
	consumer events.Consumer
	workers  int
}

// NewTracker 创建跟踪器。workerCount 小于等于零时使用单个消费协程。
func NewTracker(service *Service, consumer events.Consumer, workerCount int) *Tracker {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Tracker{service: service, consumer: consumer, workers: workerCount}
}

// Run 阻塞消费直到 ctx 结束。
func (t *Tracker) Run(ctx context.Context) error {
	return t.consumer.Consume(ctx, t.workers, t.handle)
}

func (t *Tracker) handle(_ context.Context, event events.MintEvent) error {
	if event.DatasetID == "" {
		logger.L().Warn("铸造事件缺少数据集编号", slog.String("tx_hash", event.TxHash))
		return nil
	}
	if !t.service.resolve(event.DatasetID, event.TokenID, event.TxHash) {
		// 事件可能属于其他网关实例发布的数据集，忽略即可。
		logger.L().Debug("铸造事件未命中本地记录",
			slog.String("dataset_id", event.DatasetID),
			slog.Uint64("token_id", event.TokenID))
		return nil
	}
	logger.Audit().Info("数据集铸造完成",
		slog.String("dataset_id", event.DatasetID),
		slog.Uint64("token_id", event.TokenID),
		slog.String("tx_hash", event.TxHash))
	return nil
}
