package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"Enclava-Chain/internal/backend"
	"Enclava-Chain/internal/chat"
	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/market"
	"Enclava-Chain/internal/notify"
	"Enclava-Chain/internal/observability/metrics"
	"Enclava-Chain/internal/payment"
	"Enclava-Chain/internal/purchase"
	"Enclava-Chain/internal/upload"
)

// EarningsReader 查询某个地址在合约中的累计收入。
type EarningsReader interface {
	TotalEarnedBy(ctx context.Context, owner string) (*big.Int, error)
}

// Deps 聚合网关依赖的各个子系统。除 Sessions 与 Market 外均可为空，
// 对应接口返回 503。
type Deps struct {
	Sessions  *chat.Manager
	Market    *backend.Client
	Earnings  EarningsReader
	Purchases purchase.Repository
	Uploads   *upload.Service
	Notices   *notify.BufferSink
}

// Server 负责暴露 REST 接口，供前端驱动问答与支付工作流。
type Server struct {
	addr string
	deps Deps
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整的路由表，测试直接挂在 httptest 上使用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", s.instrument("sessions_create", s.handleCreateSession))
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.instrument("sessions_get", s.handleGetSession))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.instrument("sessions_delete", s.handleDeleteSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.instrument("sessions_message", s.handleSubmitMessage))
	mux.HandleFunc("POST /api/v1/sessions/{id}/selection", s.instrument("sessions_selection", s.handleToggleSelection))
	mux.HandleFunc("POST /api/v1/sessions/{id}/confirm", s.instrument("sessions_confirm", s.handleConfirm))
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.instrument("sessions_reset", s.handleResetSession))
	mux.HandleFunc("GET /api/v1/agents", s.instrument("agents_list", s.handleListAgents))
	mux.HandleFunc("GET /api/v1/agents/{id}", s.instrument("agents_detail", s.handleAgentDetail))
	mux.HandleFunc("GET /api/v1/users/{address}/profile", s.instrument("profile", s.handleProfile))
	mux.HandleFunc("GET /api/v1/purchases", s.instrument("purchases_list", s.handleListPurchases))
	mux.HandleFunc("POST /api/v1/datasets", s.instrument("datasets_upload", s.handleUploadDataset))
	mux.HandleFunc("POST /api/v1/datasets/details", s.instrument("datasets_details", s.handleGenerateDetails))
	mux.HandleFunc("POST /api/v1/datasets/{id}/mint", s.instrument("datasets_mint", s.handleRetryMint))
	mux.HandleFunc("GET /api/v1/notices", s.instrument("notices", s.handleDrainNotices))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

// sessionView 是会话状态对前端的投影。
type sessionView struct {
	SessionID string         `json:"session_id"`
	Phase     chat.Phase     `json:"phase"`
	Messages  []chat.Message `json:"messages"`
	Suggested []market.Agent `json:"suggested_agents,omitempty"`
	Selection []int64        `json:"selection,omitempty"`
	Payment   paymentView    `json:"payment"`
}

type paymentView struct {
	Status payment.Status `json:"status"`
	TxHash string         `json:"tx_hash,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func renderSession(id string, workflow *chat.Workflow) sessionView {
	snap := workflow.PaymentState()
	view := paymentView{Status: snap.Status, TxHash: snap.TxHash}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	return sessionView{
		SessionID: id,
		Phase:     workflow.Phase(),
		Messages:  workflow.Messages(),
		Suggested: workflow.Suggested(),
		Selection: workflow.Selection(),
		Payment:   view,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "会话管理器未初始化"))
		return
	}
	var req struct {
		Buyer string `json:"buyer"`
	}
	if r.Body != nil {
		// 请求体可以为空，买家地址在确认支付前再校验。
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	var opts []chat.Option
	if req.Buyer != "" {
		opts = append(opts, chat.WithBuyer(req.Buyer))
	}
	id, workflow := s.deps.Sessions.Create(opts...)
	writeJSON(w, http.StatusCreated, renderSession(id, workflow))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (string, *chat.Workflow, bool) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "会话管理器未初始化"))
		return "", nil, false
	}
	id := r.PathValue("id")
	workflow, err := s.deps.Sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return "", nil, false
	}
	return id, workflow, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, workflow, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, renderSession(id, workflow))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "会话管理器未初始化"))
		return
	}
	s.deps.Sessions.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	id, workflow, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if err := workflow.Submit(r.Context(), req.Question); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(id, workflow))
}

func (s *Server) handleToggleSelection(w http.ResponseWriter, r *http.Request) {
	id, workflow, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if err := workflow.ToggleSelect(req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(id, workflow))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, workflow, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := workflow.ConfirmAndPay(r.Context()); err != nil {
		metrics.ObservePayment("failed")
		writeError(w, err)
		return
	}
	metrics.ObservePayment("succeeded")
	writeJSON(w, http.StatusOK, renderSession(id, workflow))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id, workflow, ok := s.session(w, r)
	if !ok {
		return
	}
	workflow.Reset()
	writeJSON(w, http.StatusOK, renderSession(id, workflow))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Market == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "后端客户端未初始化"))
		return
	}
	filter := backend.Filter{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
	}
	agents, err := s.deps.Market.MarketplaceAgents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Market == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "后端客户端未初始化"))
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "数据集编号不合法"))
		return
	}
	agent, err := s.deps.Market.AgentDetail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Market == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "后端客户端未初始化"))
		return
	}
	address := r.PathValue("address")
	agents, err := s.deps.Market.UserProfile(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		Agents         []market.Agent `json:"agents"`
		TotalEarnedWei string         `json:"total_earned_wei"`
	}{Agents: agents, TotalEarnedWei: "0"}

	if s.deps.Earnings != nil {
		earned, err := s.deps.Earnings.TotalEarnedBy(r.Context(), address)
		if err != nil {
			// 链上查询失败不影响列表展示，收入按 0 返回。
			writeJSON(w, http.StatusOK, out)
			return
		}
		out.TotalEarnedWei = earned.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	if s.deps.Purchases == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "购买流水存储未初始化"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	purchases, err := s.deps.Purchases.ListByBuyer(r.Context(), r.URL.Query().Get("buyer"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "发布服务未初始化"))
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "表单解析失败"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "缺少数据集文件"))
		return
	}
	defer file.Close()

	record, err := s.deps.Uploads.Publish(r.Context(), upload.Request{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Price:       market.Price(r.FormValue("dataset_price")),
		OwnerAddr:   r.FormValue("user_address"),
		Filename:    header.Filename,
		File:        file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGenerateDetails(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "发布服务未初始化"))
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "表单解析失败"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "缺少数据集文件"))
		return
	}
	defer file.Close()

	details, err := s.deps.Uploads.GenerateDetails(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleRetryMint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		writeError(w, xerrors.New(xerrors.CodeInitialization, "发布服务未初始化"))
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "数据集编号不合法"))
		return
	}
	record, err := s.deps.Uploads.RetryMint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDrainNotices(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Notices == nil {
		writeJSON(w, http.StatusOK, []notify.Notice{})
		return
	}
	notices := s.deps.Notices.Drain()
	if notices == nil {
		notices = []notify.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusForCode(code), struct {
		Error errorBody `json:"error"`
	}{Error: errorBody{Code: string(code), Message: err.Error()}})
}

func statusForCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, xerrors.CodeWalletNotConnected:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAgentNotPayable:
		return http.StatusConflict
	case xerrors.CodePaymentRejected, xerrors.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case xerrors.CodeReceiptTimeout, xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeTransport, xerrors.CodeChainFailure:
		return http.StatusBadGateway
	case xerrors.CodeInitialization:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
