package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Enclava-Chain/internal/market"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func TestChatAgents(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/agents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Prompt != "weather data" {
			t.Fatalf("unexpected prompt: %q", req.Prompt)
		}
		_, _ = w.Write([]byte(`{"agents":[{"id":7,"name":"climate","price":0.5,"status":"active"}]}`))
	})

	agents, err := client.ChatAgents(context.Background(), "weather data")
	if err != nil {
		t.Fatalf("chat agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != 7 {
		t.Fatalf("unexpected agents: %+v", agents)
	}
	if agents[0].Price != market.Price("0.5") {
		t.Fatalf("price literal lost: %q", agents[0].Price)
	}
}

func TestChatAnswersRejectsSuccessFalse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agent_responses":[],"success":false}`))
	})

	_, err := client.ChatAnswers(context.Background(), []int64{1}, "prompt", "0xabc")
	if err == nil {
		t.Fatal("expected error when success=false")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != http.StatusOK {
		t.Fatalf("unexpected status: %d", apiErr.Status)
	}
}

func TestChatAnswersPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentIDs []int64 `json:"agent_ids"`
			Prompt   string  `json:"prompt"`
			TxHash   string  `json:"tx_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(req.AgentIDs) != 2 || req.TxHash != "0xfeed" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		_, _ = w.Write([]byte(`{"agent_responses":[{"agent_id":1,"prompt":"p","response":"r"}],"success":true}`))
	})

	answers, err := client.ChatAnswers(context.Background(), []int64{1, 2}, "p", "0xfeed")
	if err != nil {
		t.Fatalf("chat answers: %v", err)
	}
	if len(answers) != 1 || answers[0].Response != "r" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
}

func TestMarketplaceAgentsFilter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("search") != "solar" || r.URL.Query().Get("category") != "Environmental" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := client.MarketplaceAgents(context.Background(), Filter{Search: "solar", Category: "Environmental"}); err != nil {
		t.Fatalf("marketplace agents: %v", err)
	}
}

func TestAgentDetailNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"Agent not found","error_code":"AGENT_NOT_FOUND"}`))
	})

	_, err := client.AgentDetail(context.Background(), 99)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.ErrorCode != "AGENT_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestUserProfileMisspelledFlag(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/0xabc/profile" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sucess":true,"message":"ok","agents":[{"id":3,"price":1}]}`))
	})

	agents, err := client.UserProfile(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("user profile: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != 3 {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestUploadDatasetMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("dataset_price"); got != "2.5" {
			t.Fatalf("unexpected price field: %q", got)
		}
		if got := r.FormValue("user_address"); got != "0xowner" {
			t.Fatalf("unexpected address field: %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "data.csv" {
			t.Fatalf("unexpected filename: %q", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "a,b\n1,2\n" {
			t.Fatalf("unexpected file content: %q", content)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","file_id":"f1","dataset_id":11}`))
	})

	result, err := client.UploadDataset(context.Background(), UploadRequest{
		Name:        "demo",
		Description: "desc",
		Category:    "Web3",
		Price:       "2.5",
		UserAddress: "0xowner",
		Filename:    "data.csv",
		File:        strings.NewReader("a,b\n1,2\n"),
	})
	if err != nil {
		t.Fatalf("upload dataset: %v", err)
	}
	if result.DatasetID != 11 {
		t.Fatalf("unexpected dataset id: %d", result.DatasetID)
	}
}

func TestGenerateDatasetDetails(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dataset/details/generate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","name":"n","description":"d","category":"Analytics"}`))
	})

	details, err := client.GenerateDatasetDetails(context.Background(), "data.csv", strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("generate details: %v", err)
	}
	if details.Category != "Analytics" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestTransportErrorHasStatusZero(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.ChatAgents(context.Background(), "prompt")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if !apiErr.Transport() || apiErr.Status != 0 {
		t.Fatalf("expected transport error, got %+v", apiErr)
	}
}
