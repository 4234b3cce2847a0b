// Package workshop provides a thin Go client for the workshopd REST API.
package workshop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the workshopd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	sessionToken string
}

// Credentials represents the demo account used to obtain a session token.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session represents an issued session token.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RunSubmission represents the payload required to create a new workflow run.
type RunSubmission struct {
	ID       string         `json:"id,omitempty"`
	Kind     string         `json:"kind"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StepResult mirrors the per-step output of a workflow run.
type StepResult struct {
	Name       string            `json:"name"`
	Hash       string            `json:"hash,omitempty"`
	Ledger     int32             `json:"ledger,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// RunResult mirrors the aggregate result of a completed run.
type RunResult struct {
	Kind       string            `json:"kind"`
	Steps      []StepResult      `json:"steps"`
	Outputs    map[string]string `json:"outputs"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt int64             `json:"finished_at"`
}

// Run contains the full server-side view of a workflow run.
type Run struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *RunResult     `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// RunStats mirrors the aggregate counters returned by the stats endpoint.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// ListRunsOptions filters the run listing.
type ListRunsOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	Kinds    []string
	Query    string
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
		return fmt.Sprintf("workshop api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("workshop api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the workshopd API. When httpClient is
// nil, a default client with a sensible timeout is used.
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

// Login exchanges the demo credentials for a session token and stores it for
// subsequent wallet calls.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	var session Session
	if err := c.post(ctx, "/api/v1/session", creds, &session, false); err != nil {
		return Session{}, err
	}
	c.mu.Lock()
	c.sessionToken = session.Token
	c.mu.Unlock()
	return session, nil
}

// Logout invalidates the stored session token.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/session", nil, true)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionToken = ""
	c.mu.Unlock()
	return nil
}

// SubmitRun creates a new workflow run.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var created Run
	if err := c.post(ctx, "/api/v1/runs", submission, &created, false); err != nil {
		return Run{}, err
	}
	return created, nil
}

// GetRun fetches run details by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var detail Run
	endpoint := "/api/v1/runs/" + url.PathEscape(runID)
	if err := c.get(ctx, endpoint, &detail, false); err != nil {
		return Run{}, err
	}
	return detail, nil
}

// ListRuns fetches runs matching the provided filters.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) ([]Run, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", joinCSV(opts.Statuses))
	}
	if len(opts.Kinds) > 0 {
		query.Set("kind", joinCSV(opts.Kinds))
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	endpoint := "/api/v1/runs"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var runs []Run
	if err := c.get(ctx, endpoint, &runs, false); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats fetches aggregate run counters.
func (c *Client) Stats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/runs/stats", &stats, false); err != nil {
		return RunStats{}, err
	}
	return stats, nil
}

// AssetBalance mirrors a single non-native balance entry.
type AssetBalance struct {
	Asset struct {
		Code   string `json:"code"`
		Issuer string `json:"issuer,omitempty"`
	} `json:"asset"`
	Amount string `json:"amount"`
}

// WalletView mirrors the wallet endpoint response.
type WalletView struct {
	Address  string `json:"address"`
	Balances struct {
		Native string         `json:"native"`
		Assets []AssetBalance `json:"assets,omitempty"`
	} `json:"balances"`
}

// Wallet fetches the wallet address and balances. A session token must be
// stored first when the server runs with auth enabled.
func (c *Client) Wallet(ctx context.Context) (WalletView, error) {
	var view WalletView
	if err := c.get(ctx, "/api/v1/wallet", &view, true); err != nil {
		return WalletView{}, err
	}
	return view, nil
}

// WaitForRun polls the run until it reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SessionToken returns the currently stored token string.
func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

// SetSessionToken overrides the stored session token.
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = token
}

func joinCSV(values []string) string {
	out := ""
	for i, value := range values {
		if i > 0 {
			out += ","
		}
		out += value
	}
	return out
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.SessionToken()
		if token == "" {
			return nil, errors.New("workshop: session token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
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
			_ = json.Unmarshal(data, &apiErr)
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
