package purchase

import (
	"context"
	"sync"
	"time"

	"Enclava-Chain/internal/chat"
	xerrors "Enclava-Chain/internal/errors"
)

// Purchase 是一次已确认的数据集购买流水。
type Purchase struct {
	ID        int64    `json:"id"`
	Buyer     string   `json:"buyer"`
	AgentIDs  []int64  `json:"agent_ids"`
	TokenIDs  []uint64 `json:"token_ids"`
	TotalWei  string   `json:"total_wei"`
	TxHash    string   `json:"tx_hash"`
	CreatedAt int64    `json:"created_at"`
}

// Repository 持久化购买流水。
type Repository interface {
	Record(ctx context.Context, p *Purchase) error
	ListByBuyer(ctx context.Context, buyer string, limit int) ([]*Purchase, error)
	Close() error
}

// MemoryRepository 以内存方式保存流水，主要用于测试与单机部署。
type MemoryRepository struct {
	mu        sync.RWMutex
	purchases []*Purchase
	nextID    int64
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

// Record 实现 Repository 接口。
func (m *MemoryRepository) Record(_ context.Context, p *Purchase) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "purchase 不能为空")
	}
	if p.TxHash == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.purchases {
		if existing.TxHash == p.TxHash {
			return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希已存在")
		}
	}
	clone := *p
	clone.ID = m.nextID
	m.nextID++
	if clone.CreatedAt == 0 {
		clone.CreatedAt = time.Now().Unix()
	}
	clone.AgentIDs = append([]int64(nil), p.AgentIDs...)
	clone.TokenIDs = append([]uint64(nil), p.TokenIDs...)
	m.purchases = append(m.purchases, &clone)
	p.ID = clone.ID
	return nil
}

// ListByBuyer 返回指定买家最近的流水，按时间倒序。
func (m *MemoryRepository) ListByBuyer(_ context.Context, buyer string, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Purchase, 0, limit)
	for i := len(m.purchases) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.purchases[i]
		if buyer != "" && p.Buyer != buyer {
			continue
		}
		clone := *p
		clone.AgentIDs = append([]int64(nil), p.AgentIDs...)
		clone.TokenIDs = append([]uint64(nil), p.TokenIDs...)
		out = append(out, &clone)
	}
	return out, nil
}

// Close 对内存存储无需操作。
func (m *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)

// WorkflowRecorder 将工作流的购买记录转发给 Repository，实现
// chat.Recorder。
type WorkflowRecorder struct {
	Repo Repository
}

// Record 实现 chat.Recorder。
func (r WorkflowRecorder) Record(ctx context.Context, record chat.PurchaseRecord) error {
	return r.Repo.Record(ctx, &Purchase{
		Buyer:    record.Buyer,
		AgentIDs: record.AgentIDs,
		TokenIDs: record.TokenIDs,
		TotalWei: record.TotalWei,
		TxHash:   record.TxHash,
	})
}

var _ chat.Recorder = WorkflowRecorder{}
