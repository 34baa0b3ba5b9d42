package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"Enclava-Chain/internal/market"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the marketplace backend REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// APIError represents a failed backend call. Status is 0 when the request
// never produced an HTTP response (transport failure), otherwise the HTTP
// status code of the response.
type APIError struct {
	Status    int
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status == 0 {
		return fmt.Sprintf("backend transport error: %s", e.Message)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("backend api error (%d): %s - %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("backend api error (%d): %s", e.Status, e.Message)
}

// Transport 表示该错误发生在请求到达后端之前。
func (e *APIError) Transport() bool {
	return e != nil && e.Status == 0
}

// AgentAnswer holds one agent's reply to a paid prompt.
type AgentAnswer struct {
	AgentID  int64  `json:"agent_id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Filter narrows marketplace listings.
type Filter struct {
	Search   string
	Category string
}

// UploadRequest carries the multipart payload for publishing a dataset.
type UploadRequest struct {
	Name        string
	Description string
	Category    string
	Price       market.Price
	UserAddress string
	Filename    string
	File        io.Reader
}

// UploadResult is the backend acknowledgement of a dataset upload.
type UploadResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	FileSize  uint64 `json:"file_size"`
	RowCount  int    `json:"row_count"`
	DatasetID int64  `json:"dataset_id"`
}

// GeneratedDetails is AI-assisted metadata derived from a dataset sample.
type GeneratedDetails struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// NewClient instantiates a client for the marketplace backend. When
// httpClient is nil, a default client with a sensible timeout is used.
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

// ChatAgents asks the backend which datasets can answer the prompt.
func (c *Client) ChatAgents(ctx context.Context, prompt string) ([]market.Agent, error) {
	payload := struct {
		Prompt string `json:"prompt"`
	}{Prompt: prompt}
	var out struct {
		Agents []market.Agent `json:"agents"`
	}
	if err := c.postJSON(ctx, "/chat/agents", payload, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// ChatAnswers fetches the paid answers for the given agents. txHash proves
// the on-chain payment. A 2xx response with success=false is still a failure.
func (c *Client) ChatAnswers(ctx context.Context, agentIDs []int64, prompt, txHash string) ([]AgentAnswer, error) {
	payload := struct {
		AgentIDs []int64 `json:"agent_ids"`
		Prompt   string  `json:"prompt"`
		TxHash   string  `json:"tx_hash"`
	}{AgentIDs: agentIDs, Prompt: prompt, TxHash: txHash}
	var out struct {
		AgentResponses []AgentAnswer `json:"agent_responses"`
		Success        bool          `json:"success"`
	}
	if err := c.postJSON(ctx, "/chat/agents/answer", payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{Status: http.StatusOK, Message: "后端拒绝返回答案"}
	}
	return out.AgentResponses, nil
}

// MarketplaceAgents lists datasets, optionally filtered by search term and
// category.
func (c *Client) MarketplaceAgents(ctx context.Context, filter Filter) ([]market.Agent, error) {
	query := url.Values{}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	endpoint := "/agents"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var agents []market.Agent
	if err := c.getJSON(ctx, endpoint, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// AgentDetail fetches a single dataset by id.
func (c *Client) AgentDetail(ctx context.Context, id int64) (market.Agent, error) {
	var agent market.Agent
	endpoint := fmt.Sprintf("/agents/%d", id)
	if err := c.getJSON(ctx, endpoint, &agent); err != nil {
		return market.Agent{}, err
	}
	return agent, nil
}

// UserProfile lists the datasets owned by the wallet address.
func (c *Client) UserProfile(ctx context.Context, address string) ([]market.Agent, error) {
	// 后端的 profile 响应里 success 字段拼写为 sucess，保持兼容。
	var out struct {
		Sucess  bool           `json:"sucess"`
		Message string         `json:"message"`
		Agents  []market.Agent `json:"agents"`
	}
	endpoint := fmt.Sprintf("/users/%s/profile", url.PathEscape(address))
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	if !out.Sucess {
		return nil, &APIError{Status: http.StatusOK, Message: out.Message}
	}
	return out.Agents, nil
}

// UploadDataset publishes a dataset file with its metadata as a multipart
// form.
func (c *Client) UploadDataset(ctx context.Context, req UploadRequest) (UploadResult, error) {
	fields := map[string]string{
		"name":          req.Name,
		"description":   req.Description,
		"category":      req.Category,
		"dataset_price": req.Price.String(),
		"user_address":  req.UserAddress,
	}
	var out UploadResult
	if err := c.postMultipart(ctx, "/dataset/upload", fields, req.Filename, req.File, &out); err != nil {
		return UploadResult{}, err
	}
	if !out.Success {
		return UploadResult{}, &APIError{Status: http.StatusOK, Message: out.Message}
	}
	return out, nil
}

// GenerateDatasetDetails asks the backend to derive name, description and
// category from a dataset sample.
func (c *Client) GenerateDatasetDetails(ctx context.Context, filename string, file io.Reader) (GeneratedDetails, error) {
	var out GeneratedDetails
	if err := c.postMultipart(ctx, "/dataset/details/generate", nil, filename, file, &out); err != nil {
		return GeneratedDetails{}, err
	}
	if !out.Success {
		return GeneratedDetails{}, &APIError{Status: http.StatusOK, Message: out.Message}
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &APIError{Status: 0, Message: fmt.Sprintf("encode request: %v", err)}
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, fields map[string]string, filename string, file io.Reader, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return &APIError{Status: 0, Message: fmt.Sprintf("write form field %s: %v", key, err)}
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return &APIError{Status: 0, Message: fmt.Sprintf("create form file: %v", err)}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &APIError{Status: 0, Message: fmt.Sprintf("copy file payload: %v", err)}
	}
	if err := writer.Close(); err != nil {
		return &APIError{Status: 0, Message: fmt.Sprintf("finalize multipart body: %v", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, &APIError{Status: 0, Message: fmt.Sprintf("invalid endpoint %s: %v", endpoint, err)}
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &APIError{Status: 0, Message: fmt.Sprintf("create request: %v", err)}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Status: 0, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
			if apiErr.Message == "" {
				apiErr.Message = "status " + strconv.Itoa(resp.StatusCode)
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
