package chat

import (
	"sync"

	"github.com/google/uuid"

	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/payment"
)

// WorkflowFactory 为每个会话构建支付适配器。一个适配器实例不允许同时
// 服务两笔支付，因此各会话持有独立实例。
type WorkflowFactory func() payment.Adapter

// Manager 维护网关内的多个并发会话。
type Manager struct {
	client  AgentClient
	factory WorkflowFactory
	opts    []Option

	mu       sync.RWMutex
	sessions map[string]*Workflow
}

// NewManager 创建会话管理器。
func NewManager(client AgentClient, factory WorkflowFactory, opts ...Option) *Manager {
	return &Manager{
		client:   client,
		factory:  factory,
		opts:     opts,
		sessions: make(map[string]*Workflow),
	}
}

// Create 新建一个会话并返回其编号。
func (m *Manager) Create(opts ...Option) (string, *Workflow) {
	id := uuid.NewString()
	merged := make([]Option, 0, len(m.opts)+len(opts))
	merged = append(merged, m.opts...)
	merged = append(merged, opts...)
	workflow := NewWorkflow(m.client, m.factory(), merged...)

	m.mu.Lock()
	m.sessions[id] = workflow
	m.mu.Unlock()
	return id, workflow
}

// Get 返回指定会话。
func (m *Manager) Get(id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	workflow, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	return workflow, nil
}

// Remove 删除指定会话。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len 返回当前会话数量。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
