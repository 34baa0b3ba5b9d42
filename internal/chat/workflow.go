package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"Enclava-Chain/internal/backend"
	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/market"
	"Enclava-Chain/internal/payment"
	"Enclava-Chain/pkg/logger"
)

// Phase 表示会话工作流所处的阶段。
type Phase string

const (
	PhaseInitial           Phase = "initial"
	PhaseAgentSelection    Phase = "agent_selection"
	PhasePaymentProcessing Phase = "payment_processing"
)

// AgentClient 是工作流需要的后端能力子集。
type AgentClient interface {
	ChatAgents(ctx context.Context, prompt string) ([]market.Agent, error)
	ChatAnswers(ctx context.Context, agentIDs []int64, prompt, txHash string) ([]backend.AgentAnswer, error)
}

// Notifier 接收面向用户的提示，对应前端的 toast 通知。
type Notifier interface {
	Notify(ctx context.Context, level, text string)
}

// PurchaseRecord 描述一次已完成的购买，工作流在支付成功后尽力写入。
type PurchaseRecord struct {
	Buyer    string
	AgentIDs []int64
	TokenIDs []uint64
	TotalWei string
	TxHash   string
}

// Recorder 持久化购买流水。写入失败不影响工作流推进。
type Recorder interface {
	Record(ctx context.Context, record PurchaseRecord) error
}

// Listener 在工作流状态变化后被调用，视图层据此重新渲染。
type Listener func()

// Workflow 驱动一个会话的提问、选择、支付与取答案循环。
type Workflow struct {
	client   AgentClient
	adapter  payment.Adapter
	notifier Notifier
	recorder Recorder
	listener Listener

	buyer string

	mu        sync.Mutex
	phase     Phase
	messages  []Message
	suggested []market.Agent
	selection map[int64]struct{}
	prompt    string
}

// Option 配置 Workflow 的可选依赖。
type Option func(*Workflow)

// WithNotifier 注入用户通知通道。
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithRecorder 注入购买流水存储。
func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.recorder = r }
}

// WithListener 注入状态变化回调。回调在锁外触发，可以安全地回读状态。
func WithListener(l Listener) Option {
	return func(w *Workflow) { w.listener = l }
}

// WithBuyer 记录买家地址，仅用于购买流水。
func WithBuyer(address string) Option {
	return func(w *Workflow) { w.buyer = address }
}

// NewWorkflow 创建处于初始阶段的工作流。
func NewWorkflow(client AgentClient, adapter payment.Adapter, opts ...Option) *Workflow {
	w := &Workflow{
		client:    client,
		adapter:   adapter,
		phase:     PhaseInitial,
		selection: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.messages = append(w.messages, newMessage(RoleAssistant,
		"Hello! I'm your AI assistant. I can help you find and analyze relevant datasets for your questions. What would you like to explore today?"))
	return w
}

// Phase 返回当前阶段。
func (w *Workflow) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Messages 返回消息序列的副本。
func (w *Workflow) Messages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Suggested 返回当前的候选数据集。
func (w *Workflow) Suggested() []market.Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]market.Agent, len(w.suggested))
	copy(out, w.suggested)
	return out
}

// Selection 返回已选数据集的编号，升序排列。
func (w *Workflow) Selection() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectionLocked()
}

func (w *Workflow) selectionLocked() []int64 {
	ids := make([]int64, 0, len(w.selection))
	for id := range w.selection {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Prompt 返回本轮提问的原始文本。
func (w *Workflow) Prompt() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prompt
}

// PaymentState 透出支付适配器的当前快照。
func (w *Workflow) PaymentState() payment.Snapshot {
	return w.adapter.State()
}

// Submit 处理一次提问。候选为空时停留在初始阶段；有候选则进入选择
// 阶段。提问文本在本轮循环内不可变。
func (w *Workflow) Submit(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return xerrors.New(xerrors.CodeValidation, "提问不能为空")
	}

	w.mu.Lock()
	if w.phase == PhasePaymentProcessing {
		w.mu.Unlock()
		return xerrors.New(xerrors.CodeValidation, "支付进行中，无法提交新的提问")
	}
	w.messages = append(w.messages, newMessage(RoleUser, question))
	w.mu.Unlock()
	w.changed()

	agents, err := w.client.ChatAgents(ctx, question)
	if err != nil {
		w.notify(ctx, "error", "Failed to get dataset suggestions. Please try again.")
		return xerrors.Wrap(xerrors.CodeTransport, err, "获取候选数据集失败")
	}

	w.mu.Lock()
	// 无论是否命中候选，本轮提问都取代上一轮的提问与候选。
	w.prompt = question
	if len(agents) == 0 {
		w.messages = append(w.messages, newMessage(RoleSystem,
			"I couldn't find any datasets that match your question. Please try rephrasing your question or ask about a different topic."))
		w.suggested = nil
		w.selection = make(map[int64]struct{})
		w.phase = PhaseInitial
		w.mu.Unlock()
		w.changed()
		return nil
	}

	w.suggested = agents
	w.selection = make(map[int64]struct{})
	plural := ""
	if len(agents) > 1 {
		plural = "s"
	}
	msg := newMessage(RoleAssistant, fmt.Sprintf(
		"I found %d relevant dataset%s for your question. Please select the dataset(s) you'd like me to analyze, then I'll provide insights based on your query.",
		len(agents), plural))
	msg.SuggestedAgents = agents
	w.messages = append(w.messages, msg)
	w.phase = PhaseAgentSelection
	w.mu.Unlock()
	w.changed()
	return nil
}

// ToggleSelect 翻转一个候选数据集的选中状态。两次翻转恢复原状。
func (w *Workflow) ToggleSelect(agentID int64) error {
	w.mu.Lock()
	if w.phase != PhaseAgentSelection {
		w.mu.Unlock()
		return xerrors.New(xerrors.CodeValidation, "当前阶段不允许修改选择")
	}
	found := false
	for _, agent := range w.suggested {
		if agent.ID == agentID {
			found = true
			break
		}
	}
	if !found {
		w.mu.Unlock()
		return xerrors.New(xerrors.CodeNotFound, "所选数据集不在候选列表中")
	}
	if _, ok := w.selection[agentID]; ok {
		delete(w.selection, agentID)
	} else {
		w.selection[agentID] = struct{}{}
	}
	w.mu.Unlock()
	w.changed()
	return nil
}

// ConfirmAndPay 校验前置条件后发起链上支付，阻塞到本轮终态：成功取回
// 答案回到初始阶段，失败回到选择阶段并保留选择。
func (w *Workflow) ConfirmAndPay(ctx context.Context) error {
	w.mu.Lock()
	if w.phase != PhaseAgentSelection {
		w.mu.Unlock()
		return xerrors.New(xerrors.CodeValidation, "当前阶段无法发起支付")
	}
	if !w.adapter.Connected() {
		w.mu.Unlock()
		w.notify(ctx, "error", "Please connect your wallet to proceed with payment.")
		return xerrors.New(xerrors.CodeWalletNotConnected, "")
	}
	if len(w.selection) == 0 {
		w.mu.Unlock()
		w.notify(ctx, "error", "Please select at least one dataset to analyze.")
		return xerrors.New(xerrors.CodeValidation, "未选择任何数据集")
	}

	selected := make([]market.Agent, 0, len(w.selection))
	for _, agent := range w.suggested {
		if _, ok := w.selection[agent.ID]; ok {
			selected = append(selected, agent)
		}
	}
	// 只要有一个选中项没有对应的 NFT，就拒绝整个操作，不做静默过滤。
	for _, agent := range selected {
		if !agent.Payable() {
			w.mu.Unlock()
			w.notify(ctx, "error", "Some selected datasets don't have associated NFTs. Please select different datasets.")
			return xerrors.New(xerrors.CodeAgentNotPayable, "",
				xerrors.WithMetadata("agent_id", fmt.Sprintf("%d", agent.ID)))
		}
	}

	tokenIDs := make([]uint64, 0, len(selected))
	amounts := make([]market.Price, 0, len(selected))
	names := make([]string, 0, len(selected))
	for _, agent := range selected {
		tokenIDs = append(tokenIDs, agent.TokenID())
		amounts = append(amounts, agent.Price)
		names = append(names, agent.Name)
	}
	totalCost, err := market.SumPrices(amounts)
	if err != nil {
		w.mu.Unlock()
		return xerrors.Wrap(xerrors.CodeValidation, err, "汇总金额失败")
	}
	totalWei, _, err := payment.TotalWei(amounts)
	if err != nil {
		w.mu.Unlock()
		return xerrors.Wrap(xerrors.CodeValidation, err, "金额换算失败")
	}

	w.messages = append(w.messages, newMessage(RoleSystem, fmt.Sprintf(
		"Great! You've selected %d dataset(s): %s. Total cost: %s. Processing payment...",
		len(selected), strings.Join(names, ", "), totalCost)))
	w.phase = PhasePaymentProcessing
	prompt := w.prompt
	agentIDs := make([]int64, 0, len(selected))
	for _, agent := range selected {
		agentIDs = append(agentIDs, agent.ID)
	}
	w.mu.Unlock()
	w.changed()

	txHash, err := w.adapter.Pay(ctx, payment.Request{TokenIDs: tokenIDs, Amounts: amounts, Buyer: w.buyer})
	if err != nil {
		w.paymentFailed(ctx, err)
		return err
	}
	return w.paymentSucceeded(ctx, txHash, agentIDs, tokenIDs, prompt, totalWei.String())
}

// paymentSucceeded 在支付确认后取回答案并结束本轮循环。
func (w *Workflow) paymentSucceeded(ctx context.Context, txHash string, agentIDs []int64, tokenIDs []uint64, prompt, totalWei string) error {
	w.mu.Lock()
	w.messages = append(w.messages, newMessage(RoleSystem, fmt.Sprintf(
		"Payment successful! Transaction hash: %s. Now analyzing your question using the selected datasets...", txHash)))
	w.mu.Unlock()
	w.changed()

	answers, err := w.client.ChatAnswers(ctx, agentIDs, prompt, txHash)
	if err != nil {
		// 支付已完成但取答案失败：回到选择阶段并保留选择，让用户重试。
		w.notify(ctx, "error", "Failed to get answer from datasets. Please try again.")
		w.mu.Lock()
		w.phase = PhaseAgentSelection
		w.mu.Unlock()
		w.adapter.Reset()
		w.changed()
		return xerrors.Wrap(xerrors.CodeTransport, err, "取回答案失败")
	}

	w.record(ctx, agentIDs, tokenIDs, txHash, totalWei)

	w.mu.Lock()
	msg := newMessage(RoleAssistant, "Here are the insights from your selected datasets:")
	msg.Answers = answers
	w.messages = append(w.messages, msg)
	w.suggested = nil
	w.selection = make(map[int64]struct{})
	w.prompt = ""
	w.phase = PhaseInitial
	w.mu.Unlock()
	w.adapter.Reset()
	w.changed()
	return nil
}

// paymentFailed 在支付失败后回到选择阶段，保留选择供重试。
func (w *Workflow) paymentFailed(ctx context.Context, err error) {
	w.notify(ctx, "error", fmt.Sprintf("Payment failed: %v. Please try again.", err))
	w.mu.Lock()
	w.phase = PhaseAgentSelection
	w.mu.Unlock()
	w.adapter.Reset()
	w.changed()
}

// Reset 无条件回到初始阶段，清空选择、候选与提问。
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.suggested = nil
	w.selection = make(map[int64]struct{})
	w.prompt = ""
	w.phase = PhaseInitial
	w.mu.Unlock()
	w.adapter.Reset()
	w.changed()
}

func (w *Workflow) record(ctx context.Context, agentIDs []int64, tokenIDs []uint64, txHash, totalWei string) {
	if w.recorder == nil {
		return
	}
	record := PurchaseRecord{
		Buyer:    w.buyer,
		AgentIDs: agentIDs,
		TokenIDs: tokenIDs,
		TotalWei: totalWei,
		TxHash:   txHash,
	}
	if err := w.recorder.Record(ctx, record); err != nil {
		logger.Named("chat").Warn("记录购买流水失败", "error", err, "tx_hash", txHash)
	}
}

func (w *Workflow) notify(ctx context.Context, level, text string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, level, text)
}

func (w *Workflow) changed() {
	if w.listener != nil {
		w.listener()
	}
}
