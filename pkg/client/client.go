// Package client is a small HTTP client for the token service, used by the
// CLI and by build tooling that needs to mint and refresh tokens.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one token service endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying http.Client (timeouts, proxies, test
// transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a client for the given base URL, e.g. "https://auth.example.com".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IssuedToken is a freshly minted refresh token. RefreshToken is the opaque
// secret; the server cannot show it again.
type IssuedToken struct {
	TokenID      string    `json:"token_id"`
	RefreshToken string    `json:"refresh_token"`
	Audience     []string  `json:"audience"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessGrant is a short-lived access token.
type AccessGrant struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Audience    []string  `json:"audience"`
}

// TokenSummary describes one active refresh token.
type TokenSummary struct {
	TokenID   string     `json:"token_id"`
	RepoID    string     `json:"repo_id,omitempty"`
	Audience  []string   `json:"audience"`
	Kind      string     `json:"kind"`
	Provider  string     `json:"provider"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	ID          string            `json:"id"`
	Time        time.Time         `json:"time"`
	Action      string            `json:"action"`
	Actor       string            `json:"actor"`
	CustomerID  string            `json:"customer_id,omitempty"`
	TokenID     string            `json:"token_id,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// ExchangeCode describes a minted exchange code.
type ExchangeCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SweepResult counts what one maintenance pass changed.
type SweepResult struct {
	Expired      int64 `json:"expired"`
	Deleted      int64 `json:"deleted"`
	CodesDeleted int64 `json:"codes_deleted"`
}

// APIError carries the server's status code and error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Exchange redeems a single-use code for a refresh token.
func (c *Client) Exchange(ctx context.Context, code string) (*IssuedToken, error) {
	var out IssuedToken
	err := c.post(ctx, "/v1/auth/exchange", "", map[string]string{"code": code}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveCI trades a CI proof (OIDC id token, GitHub token) for a refresh
// token.
func (c *Client) ResolveCI(ctx context.Context, provider, proof string) (*IssuedToken, error) {
	var out IssuedToken
	err := c.post(ctx, "/v1/auth/ci", "", map[string]string{"provider": provider, "proof": proof}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh mints a fresh access token from a refresh-token secret.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AccessGrant, error) {
	var out AccessGrant
	err := c.post(ctx, "/v1/token/refresh", "", map[string]string{"refresh_token": refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke revokes a refresh token by id.
func (c *Client) Revoke(ctx context.Context, accessToken, tokenID string) error {
	return c.post(ctx, "/v1/token/revoke", accessToken, map[string]string{"token_id": tokenID}, nil)
}

// Impersonate mints an access token acting as the target user.
func (c *Client) Impersonate(ctx context.Context, accessToken, targetUserID string) (*AccessGrant, error) {
	var out AccessGrant
	err := c.post(ctx, "/v1/token/impersonate", accessToken, map[string]string{"target_user_id": targetUserID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTokens lists active refresh tokens. userID is optional; admins can
// pass another user of the same org.
func (c *Client) ListTokens(ctx context.Context, accessToken, userID string) ([]TokenSummary, error) {
	path := "/v1/tokens"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var out struct {
		Tokens []TokenSummary `json:"tokens"`
	}
	if err := c.get(ctx, path, accessToken, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// CreateCode mints an exchange code for the given repo. Requires a UI
// session token.
func (c *Client) CreateCode(ctx context.Context, accessToken, repoID string) (*ExchangeCode, error) {
	var out ExchangeCode
	err := c.post(ctx, "/v1/codes", accessToken, map[string]string{"repo_id": repoID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditEvents fetches recent audit events, or a single token's trail when
// tokenID is set.
func (c *Client) AuditEvents(ctx context.Context, accessToken, tokenID string) ([]AuditEvent, error) {
	path := "/v1/audit/events"
	if tokenID != "" {
		path += "?token_id=" + url.QueryEscape(tokenID)
	}
	var out struct {
		Events []AuditEvent `json:"events"`
	}
	if err := c.get(ctx, path, accessToken, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Sweep triggers one maintenance pass on the server.
func (c *Client) Sweep(ctx context.Context, accessToken string) (*SweepResult, error) {
	var out SweepResult
	if err := c.post(ctx, "/v1/admin/sweep", accessToken, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, bearer, out)
}

func (c *Client) get(ctx context.Context, path, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, bearer, out)
}

func (c *Client) do(req *http.Request, bearer string, out any) error {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
