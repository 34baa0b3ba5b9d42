package enclava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the Enclava gateway REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Agent mirrors a marketplace dataset listing.
type Agent struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       string  `json:"price"`
	Category    string  `json:"category"`
	NFTID       *int64  `json:"nft_id"`
	NFTTx       *string `json:"nft_tx,omitempty"`
	Status      string  `json:"status"`
}

// Message is one entry of a session transcript.
type Message struct {
	ID              string        `json:"id"`
	Role            string        `json:"role"`
	Content         string        `json:"content"`
	SuggestedAgents []Agent       `json:"suggested_agents,omitempty"`
	Answers         []AgentAnswer `json:"answers,omitempty"`
}

// AgentAnswer is a paid answer from one dataset.
type AgentAnswer struct {
	AgentID  int64  `json:"agent_id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// PaymentState mirrors the gateway's view of the on-chain payment.
type PaymentState struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Session is the full state of a chat workflow.
type Session struct {
	SessionID string       `json:"session_id"`
	Phase     string       `json:"phase"`
	Messages  []Message    `json:"messages"`
	Suggested []Agent      `json:"suggested_agents,omitempty"`
	Selection []int64      `json:"selection,omitempty"`
	Payment   PaymentState `json:"payment"`
}

// Purchase is one completed dataset purchase.
type Purchase struct {
	ID        int64    `json:"id"`
	Buyer     string   `json:"buyer"`
	AgentIDs  []int64  `json:"agent_ids"`
	TokenIDs  []uint64 `json:"token_ids"`
	TotalWei  string   `json:"total_wei"`
	TxHash    string   `json:"tx_hash"`
	CreatedAt int64    `json:"created_at"`
}

// Profile is a wallet's listings plus its accumulated on-chain earnings.
type Profile struct {
	Agents         []Agent `json:"agents"`
	TotalEarnedWei string  `json:"total_earned_wei"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("enclava api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("enclava api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Enclava gateway API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateSession opens a new chat workflow. buyer may be empty; the gateway
// re-checks it before payment.
func (c *Client) CreateSession(ctx context.Context, buyer string) (Session, error) {
	payload := struct {
		Buyer string `json:"buyer"`
	}{Buyer: buyer}
	var session Session
	if err := c.post(ctx, "/api/v1/sessions", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// SubmitMessage posts a question and returns the updated session.
func (c *Client) SubmitMessage(ctx context.Context, sessionID, question string) (Session, error) {
	payload := struct {
		Question string `json:"question"`
	}{Question: question}
	var session Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ToggleSelection flips the selected state of one suggested dataset.
func (c *Client) ToggleSelection(ctx context.Context, sessionID string, agentID int64) (Session, error) {
	payload := struct {
		AgentID int64 `json:"agent_id"`
	}{AgentID: agentID}
	var session Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/selection", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ConfirmAndPay triggers the on-chain payment and blocks until the round
// reaches a terminal state.
func (c *Client) ConfirmAndPay(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/confirm", struct{}{}, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ResetSession returns the workflow to its initial phase.
func (c *Client) ResetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/reset", struct{}{}, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ListAgents queries the marketplace. search and category may be empty.
func (c *Client) ListAgents(ctx context.Context, search, category string) ([]Agent, error) {
	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if category != "" {
		query.Set("category", category)
	}
	endpoint := "/api/v1/agents"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var agents []Agent
	if err := c.get(ctx, endpoint, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetProfile fetches a wallet's listings and earnings.
func (c *Client) GetProfile(ctx context.Context, address string) (Profile, error) {
	var profile Profile
	if err := c.get(ctx, "/api/v1/users/"+url.PathEscape(address)+"/profile", &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// ListPurchases returns the recent purchases of a buyer. buyer may be empty.
func (c *Client) ListPurchases(ctx context.Context, buyer string, limit int) ([]Purchase, error) {
	query := url.Values{}
	if buyer != "" {
		query.Set("buyer", buyer)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "/api/v1/purchases"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var purchases []Purchase
	if err := c.get(ctx, endpoint, &purchases); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
