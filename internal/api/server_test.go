package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Enclava-Chain/internal/backend"
	"Enclava-Chain/internal/chat"
	"Enclava-Chain/internal/market"
	"Enclava-Chain/internal/notify"
	"Enclava-Chain/internal/payment"
	"Enclava-Chain/internal/purchase"
	"Enclava-Chain/internal/upload"
)

type stubAgentClient struct {
	agents  []market.Agent
	answers []backend.AgentAnswer
}

func (s *stubAgentClient) ChatAgents(context.Context, string) ([]market.Agent, error) {
	return s.agents, nil
}

func (s *stubAgentClient) ChatAnswers(context.Context, []int64, string, string) ([]backend.AgentAnswer, error) {
	return s.answers, nil
}

type stubAdapter struct {
	connected bool
	txHash    string
	payErr    error
	snapshot  payment.Snapshot
}

func (s *stubAdapter) Connected() bool { return s.connected }

func (s *stubAdapter) Pay(context.Context, payment.Request) (string, error) {
	if s.payErr != nil {
		s.snapshot = payment.Snapshot{Status: payment.StatusFailed, Err: s.payErr}
		return "", s.payErr
	}
	s.snapshot = payment.Snapshot{Status: payment.StatusSucceeded, TxHash: s.txHash}
	return s.txHash, nil
}

func (s *stubAdapter) State() payment.Snapshot { return s.snapshot }

func (s *stubAdapter) Reset() { s.snapshot = payment.Snapshot{Status: payment.StatusIdle} }

func nftID(v int64) *int64 { return &v }

func testAgents() []market.Agent {
	return []market.Agent{
		{ID: 1, Name: "Solar", Price: "1.5", Status: market.StatusActive, NFTID: nftID(101)},
		{ID: 2, Name: "Wind", Price: "2", Status: market.StatusActive, NFTID: nftID(102)},
	}
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(":0", deps).Handler())
	t.Cleanup(server.Close)
	return server
}

func decodeSession(t *testing.T, resp *http.Response) sessionView {
	t.Helper()
	defer resp.Body.Close()
	var view sessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("解析会话响应失败: %v", err)
	}
	return view
}

func TestSessionLifecycle(t *testing.T) {
	client := &stubAgentClient{
		agents:  testAgents(),
		answers: []backend.AgentAnswer{{AgentID: 1, Response: "insight"}},
	}
	adapter := &stubAdapter{connected: true, txHash: "0xabc"}
	repo := purchase.NewMemoryRepository()
	manager := chat.NewManager(client, func() payment.Adapter { return adapter },
		chat.WithRecorder(purchase.WorkflowRecorder{Repo: repo}))
	server := newTestServer(t, Deps{
		Sessions:  manager,
		Purchases: repo,
	})

	resp, err := http.Post(server.URL+"/api/v1/sessions", "application/json",
		strings.NewReader(`{"buyer":"0x1111111111111111111111111111111111111111"}`))
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("期望 201, 得到 %d", resp.StatusCode)
	}
	view := decodeSession(t, resp)
	if view.SessionID == "" || view.Phase != chat.PhaseInitial {
		t.Fatalf("初始会话状态不符: %+v", view)
	}
	base := server.URL + "/api/v1/sessions/" + view.SessionID

	resp, err = http.Post(base+"/messages", "application/json",
		strings.NewReader(`{"question":"solar output?"}`))
	if err != nil {
		t.Fatalf("提交问题失败: %v", err)
	}
	view = decodeSession(t, resp)
	if view.Phase != chat.PhaseAgentSelection || len(view.Suggested) != 2 {
		t.Fatalf("提交问题后的状态不符: %+v", view)
	}

	for _, id := range []int64{1, 2} {
		resp, err = http.Post(base+"/selection", "application/json",
			strings.NewReader(fmt.Sprintf(`{"agent_id":%d}`, id)))
		if err != nil {
			t.Fatalf("切换选择失败: %v", err)
		}
		view = decodeSession(t, resp)
	}
	if len(view.Selection) != 2 {
		t.Fatalf("选择状态不符: %+v", view.Selection)
	}

	resp, err = http.Post(base+"/confirm", "application/json", nil)
	if err != nil {
		t.Fatalf("确认支付失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
	view = decodeSession(t, resp)
	if view.Phase != chat.PhaseInitial || len(view.Selection) != 0 {
		t.Fatalf("支付成功后应回到初始阶段: %+v", view)
	}

	resp, err = http.Get(server.URL + "/api/v1/purchases?buyer=0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	defer resp.Body.Close()
	var purchases []*purchase.Purchase
	if err := json.NewDecoder(resp.Body).Decode(&purchases); err != nil {
		t.Fatalf("解析流水失败: %v", err)
	}
	if len(purchases) != 1 || purchases[0].TxHash != "0xabc" {
		t.Fatalf("流水不符: %+v", purchases)
	}
}

func TestSessionNotFound(t *testing.T) {
	manager := chat.NewManager(&stubAgentClient{}, func() payment.Adapter { return &stubAdapter{} })
	server := newTestServer(t, Deps{Sessions: manager})

	resp, err := http.Get(server.URL + "/api/v1/sessions/unknown")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("期望 404, 得到 %d", resp.StatusCode)
	}
	var body struct {
		Error errorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解析错误响应失败: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("错误码不符: %+v", body)
	}
}

func TestConfirmWithoutWalletReturns400(t *testing.T) {
	client := &stubAgentClient{agents: testAgents()}
	manager := chat.NewManager(client, func() payment.Adapter { return &stubAdapter{connected: false} })
	server := newTestServer(t, Deps{Sessions: manager})

	resp, _ := http.Post(server.URL+"/api/v1/sessions", "application/json", nil)
	view := decodeSession(t, resp)
	base := server.URL + "/api/v1/sessions/" + view.SessionID

	if _, err := http.Post(base+"/messages", "application/json",
		strings.NewReader(`{"question":"q"}`)); err != nil {
		t.Fatalf("提交问题失败: %v", err)
	}
	resp, err := http.Post(base+"/confirm", "application/json", nil)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("未连接钱包应返回 400, 得到 %d", resp.StatusCode)
	}
}

type stubEarnings struct{ total *big.Int }

func (s stubEarnings) TotalEarnedBy(context.Context, string) (*big.Int, error) {
	return s.total, nil
}

func TestMarketplaceProxyAndProfile(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/agents":
			if r.URL.Query().Get("category") != "Gaming" {
				t.Errorf("分类参数未透传: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(testAgents())
		case r.URL.Path == "/agents/2":
			_ = json.NewEncoder(w).Encode(testAgents()[1])
		case strings.HasSuffix(r.URL.Path, "/profile"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sucess": true,
				"agents": testAgents()[:1],
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	client, err := backend.NewClient(upstream.URL, nil)
	if err != nil {
		t.Fatalf("创建后端客户端失败: %v", err)
	}
	server := newTestServer(t, Deps{
		Market:   client,
		Earnings: stubEarnings{total: big.NewInt(42)},
	})

	resp, err := http.Get(server.URL + "/api/v1/agents?category=Gaming")
	if err != nil {
		t.Fatalf("查询市场失败: %v", err)
	}
	defer resp.Body.Close()
	var agents []market.Agent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		t.Fatalf("解析市场响应失败: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("市场响应不符: %+v", agents)
	}

	resp, err = http.Get(server.URL + "/api/v1/users/0xowner/profile")
	if err != nil {
		t.Fatalf("查询画像失败: %v", err)
	}
	defer resp.Body.Close()
	var profile struct {
		Agents         []market.Agent `json:"agents"`
		TotalEarnedWei string         `json:"total_earned_wei"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("解析画像失败: %v", err)
	}
	if len(profile.Agents) != 1 || profile.TotalEarnedWei != "42" {
		t.Fatalf("画像不符: %+v", profile)
	}
}

type uploadStubClient struct{}

func (uploadStubClient) UploadDataset(_ context.Context, req backend.UploadRequest) (backend.UploadResult, error) {
	if req.Name != "Solar Output" || req.Filename != "solar.csv" {
		return backend.UploadResult{}, fmt.Errorf("上传字段不符: %+v", req)
	}
	return backend.UploadResult{Success: true, DatasetID: 42}, nil
}

func (uploadStubClient) GenerateDatasetDetails(context.Context, string, io.Reader) (backend.GeneratedDetails, error) {
	return backend.GeneratedDetails{}, nil
}

func TestUploadEndpoint(t *testing.T) {
	service := upload.NewService(uploadStubClient{}, nil)
	server := newTestServer(t, Deps{Uploads: service})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("name", "Solar Output")
	_ = writer.WriteField("description", "hourly output")
	_ = writer.WriteField("category", "Environmental")
	_ = writer.WriteField("dataset_price", "12.5")
	_ = writer.WriteField("user_address", "0x1111111111111111111111111111111111111111")
	part, _ := writer.CreateFormFile("file", "solar.csv")
	_, _ = part.Write([]byte("a,b\n1,2\n"))
	_ = writer.Close()

	resp, err := http.Post(server.URL+"/api/v1/datasets", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("上传失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("期望 201, 得到 %d", resp.StatusCode)
	}
	var record upload.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		t.Fatalf("解析发布记录失败: %v", err)
	}
	if record.DatasetID != 42 || record.Status != upload.StatusUploaded {
		t.Fatalf("发布记录不符: %+v", record)
	}
}

type stubMinter struct {
	err  error
	hash string
}

func (m *stubMinter) Mint(context.Context, string, string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.hash, nil
}

func TestRetryMintEndpoint(t *testing.T) {
	minter := &stubMinter{err: fmt.Errorf("nonce too low"), hash: "0xmint"}
	service := upload.NewService(uploadStubClient{}, minter)
	server := newTestServer(t, Deps{Uploads: service})

	// 上传成功但首次铸造提交失败，记录停留在 uploaded。
	record, err := service.Publish(context.Background(), upload.Request{
		Name:      "Solar Output",
		Category:  "Environmental",
		Price:     "12.5",
		OwnerAddr: "0x1111111111111111111111111111111111111111",
		Filename:  "solar.csv",
		File:      strings.NewReader("a,b\n1,2\n"),
	})
	if err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if record.Status != upload.StatusUploaded {
		t.Fatalf("铸造失败后状态应为 uploaded: %+v", record)
	}

	minter.err = nil
	resp, err := http.Post(server.URL+"/api/v1/datasets/42/mint", "application/json", nil)
	if err != nil {
		t.Fatalf("重新铸造失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
	var retried upload.Record
	if err := json.NewDecoder(resp.Body).Decode(&retried); err != nil {
		t.Fatalf("解析发布记录失败: %v", err)
	}
	if retried.Status != upload.StatusMinting || retried.MintTx != "0xmint" {
		t.Fatalf("重新铸造后的记录不符: %+v", retried)
	}

	// 已经在铸造中的记录不允许再次发起
	resp, err = http.Post(server.URL+"/api/v1/datasets/42/mint", "application/json", nil)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("重复铸造应返回 400, 得到 %d", resp.StatusCode)
	}

	// 不存在的数据集
	resp, err = http.Post(server.URL+"/api/v1/datasets/999/mint", "application/json", nil)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("未知数据集应返回 404, 得到 %d", resp.StatusCode)
	}
}

func TestDrainNotices(t *testing.T) {
	buffer := notify.NewBufferSink(8)
	fanout := notify.NewFanout(buffer)
	fanout.Notify(context.Background(), "error", "Payment failed")
	server := newTestServer(t, Deps{Notices: buffer})

	resp, err := http.Get(server.URL + "/api/v1/notices")
	if err != nil {
		t.Fatalf("拉取提示失败: %v", err)
	}
	defer resp.Body.Close()
	var notices []notify.Notice
	if err := json.NewDecoder(resp.Body).Decode(&notices); err != nil {
		t.Fatalf("解析提示失败: %v", err)
	}
	if len(notices) != 1 || notices[0].Text != "Payment failed" {
		t.Fatalf("提示不符: %+v", notices)
	}

	resp, err = http.Get(server.URL + "/api/v1/notices")
	if err != nil {
		t.Fatalf("拉取提示失败: %v", err)
	}
	defer resp.Body.Close()
	notices = nil
	if err := json.NewDecoder(resp.Body).Decode(&notices); err != nil {
		t.Fatalf("解析提示失败: %v", err)
	}
	if len(notices) != 0 {
		t.Fatalf("Drain 之后应为空: %+v", notices)
	}
}
