package payment

import (
	"context"
	"sync"

	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/market"
)

// Status 表示一次链上支付在生命周期中的状态。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal 表示该状态不会再发生迁移。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Request 描述一次批量数据集购买。TokenIDs 与 Amounts 一一对应。
type Request struct {
	TokenIDs []uint64
	Amounts  []market.Price
	Buyer    string
}

// Validate 在任何 I/O 之前校验请求本身的合法性。
func (r Request) Validate() error {
	if len(r.TokenIDs) == 0 {
		return xerrors.New(xerrors.CodeValidation, "支付请求不能为空")
	}
	if len(r.TokenIDs) != len(r.Amounts) {
		return xerrors.New(xerrors.CodeValidation, "token 列表与金额列表长度不一致")
	}
	for _, amount := range r.Amounts {
		if err := amount.Validate(); err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "金额不合法")
		}
	}
	return nil
}

// Snapshot 是支付状态的一次只读快照。
type Snapshot struct {
	Status Status
	TxHash string
	Err    error
}

// Adapter 是工作流依赖的链上支付能力。Pay 阻塞直到终态；期间状态可以
// 通过 State 持续观测。
type Adapter interface {
	Connected() bool
	Pay(ctx context.Context, req Request) (string, error)
	State() Snapshot
	Reset()
}

// Tracker 维护一次支付的可观测状态，供适配器实现内嵌使用。
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker 创建处于 Idle 状态的 Tracker。
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Status: StatusIdle}}
}

// State 返回当前快照。
func (t *Tracker) State() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Pending 标记进入等待签名阶段。
func (t *Tracker) Pending() {
	t.set(Snapshot{Status: StatusPending})
}

// Confirming 标记交易已广播，等待回执。
func (t *Tracker) Confirming(txHash string) {
	t.set(Snapshot{Status: StatusConfirming, TxHash: txHash})
}

// Succeeded 标记支付成功。
func (t *Tracker) Succeeded(txHash string) {
	t.set(Snapshot{Status: StatusSucceeded, TxHash: txHash})
}

// Failed 标记支付失败。
func (t *Tracker) Failed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{Status: StatusFailed, TxHash: t.snap.TxHash, Err: err}
}

// Reset 回到 Idle。
func (t *Tracker) Reset() {
	t.set(Snapshot{Status: StatusIdle})
}

func (t *Tracker) set(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = snap
}
