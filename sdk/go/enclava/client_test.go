package enclava

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateAndDriveSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions":
			if r.Method != http.MethodPost {
				t.Fatalf("unexpected method: %s", r.Method)
			}
			var body struct {
				Buyer string `json:"buyer"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("unexpected body: %v", err)
			}
			if body.Buyer != "0xbuyer" {
				t.Fatalf("buyer not forwarded: %q", body.Buyer)
			}
			_ = json.NewEncoder(w).Encode(Session{SessionID: "s-1", Phase: "initial"})
		case "/api/v1/sessions/s-1/messages":
			_ = json.NewEncoder(w).Encode(Session{
				SessionID: "s-1",
				Phase:     "agent_selection",
				Suggested: []Agent{{ID: 1, Name: "Solar"}},
			})
		case "/api/v1/sessions/s-1/confirm":
			_ = json.NewEncoder(w).Encode(Session{
				SessionID: "s-1",
				Phase:     "initial",
				Payment:   PaymentState{Status: "succeeded", TxHash: "0xabc"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	session, err := client.CreateSession(context.Background(), "0xbuyer")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.SessionID != "s-1" {
		t.Fatalf("unexpected session: %+v", session)
	}

	session, err = client.SubmitMessage(context.Background(), "s-1", "solar output?")
	if err != nil {
		t.Fatalf("submit message: %v", err)
	}
	if session.Phase != "agent_selection" || len(session.Suggested) != 1 {
		t.Fatalf("unexpected state: %+v", session)
	}

	session, err = client.ConfirmAndPay(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if session.Payment.Status != "succeeded" || session.Payment.TxHash != "0xabc" {
		t.Fatalf("unexpected payment state: %+v", session.Payment)
	}
}

func TestListAgentsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("category") != "Gaming" || r.URL.Query().Get("search") != "nft" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Agent{{ID: 2, Name: "Arcade"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	agents, err := client.ListAgents(context.Background(), "nft", "Gaming")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "Arcade" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "NOT_FOUND", Message: "会话不存在"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetSession(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
