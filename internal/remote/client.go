// ABOUTME: HTTP client for the blvckwall gateway: auth, owner-scoped records and provider actions
// ABOUTME: Keeps the session cookie in a jar and maps gateway statuses back onto record errors

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// Grant is the gateway's answer to signup, login and refresh.
type Grant struct {
	Owner        record.Owner `json:"owner"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// ActionResult is the gateway's answer to a provider action.
type ActionResult struct {
	Record *record.Record `json:"record"`
	Result struct {
		ID       string         `json:"id"`
		Status   string         `json:"status"`
		Provider string         `json:"provider"`
		Demo     bool           `json:"demo"`
		Output   map[string]any `json:"output,omitempty"`
	} `json:"result"`
	Audio string `json:"audio,omitempty"`
}

// AuditEntry is one entry of the caller's audit log.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
	LedgerTx   string         `json:"ledger_tx,omitempty"`
}

// Client talks to the gateway over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu      sync.RWMutex
	ownerID string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "remote") }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil) // only fails on a non-nil bad PublicSuffixList
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout, Jar: jar},
		logger:  slog.Default().With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials installs the access token used for owner-scoped calls.
// Calls naming any other owner fail with record.ErrUnauthorized.
func (c *Client) SetCredentials(ownerID, accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerID = ownerID
	c.token = accessToken
}

// ClearCredentials drops the access token. The gateway expires the session
// cookie itself on logout.
func (c *Client) ClearCredentials() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerID = ""
	c.token = ""
}

// authorize checks that ownerID is the signed-in owner and returns the token.
func (c *Client) authorize(ownerID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", fmt.Errorf("%w: not signed in", record.ErrUnauthorized)
	}
	if ownerID != c.ownerID {
		return "", fmt.Errorf("%w: credentials belong to another owner", record.ErrUnauthorized)
	}
	return c.token, nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Every non-2xx status becomes a classified error.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("gateway request failed", "method", method, "path", path, "error", err)
		return record.Unavailable("remote", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return record.Unavailable("remote", fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// errorBody is the gateway's error shape.
type errorBody struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind"`
	Violations []record.Violation `json:"violations"`
	RetryAfter int                `json:"retry_after"`
}

// handleErrorResponse classifies a non-2xx response.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var eb errorBody
	if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(data))
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		if len(eb.Violations) > 0 {
			return record.NewValidationError(eb.Violations...)
		}
		return record.NewValidationError(record.Violation{Field: "body", Message: eb.Error})
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", record.ErrUnauthorized, eb.Error)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", record.ErrNotFound, eb.Error)
	case code == http.StatusTooManyRequests:
		return &record.RateLimitedError{RetryAfter: retryAfter(resp, eb)}
	case code == http.StatusBadGateway && eb.Kind == "provider":
		return &ProviderFailure{Message: eb.Error}
	case code >= 500:
		return record.Unavailable("remote", fmt.Errorf("gateway returned status %d: %s", code, eb.Error))
	default:
		return fmt.Errorf("gateway returned status %d: %s", code, eb.Error)
	}
}

// ProviderFailure reports that the gateway's upstream provider failed.
type ProviderFailure struct {
	Message string
}

func (e *ProviderFailure) Error() string {
	return "provider failed: " + e.Message
}

func retryAfter(resp *http.Response, eb errorBody) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if eb.RetryAfter > 0 {
		return time.Duration(eb.RetryAfter) * time.Second
	}
	return time.Second
}

// Signup creates an account.
func (c *Client) Signup(ctx context.Context, email, password string) (*Grant, error) {
	return c.grant(ctx, "/api/auth/signup", map[string]string{"email": email, "password": password})
}

// Login exchanges credentials for a grant.
func (c *Client) Login(ctx context.Context, email, password string) (*Grant, error) {
	return c.grant(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new grant. The old token is consumed.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	return c.grant(ctx, "/api/auth/refresh", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) grant(ctx context.Context, path string, body any) (*Grant, error) {
	var g Grant
	if err := c.do(ctx, http.MethodPost, path, "", body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Logout revokes refreshToken on the gateway and clears local credentials.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	var body any
	if refreshToken != "" {
		body = map[string]string{"refresh_token": refreshToken}
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", token, body, nil)
	c.ClearCredentials()
	return err
}

// Me returns the owner the current token belongs to.
func (c *Client) Me(ctx context.Context) (record.Owner, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	var resp struct {
		Owner record.Owner `json:"owner"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &resp); err != nil {
		return record.Owner{}, err
	}
	return resp.Owner, nil
}

func recordsPath(c record.Category, id string) string {
	p := "/api/records/" + url.PathEscape(string(c))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// List returns the owner's records in c, newest first.
func (c *Client) List(ctx context.Context, ownerID string, cat record.Category, f record.Filter) ([]*record.Record, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range f.Fields {
		q.Set(k, v)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := recordsPath(cat, "")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Records []*record.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Get returns one of the owner's records.
func (c *Client) Get(ctx context.Context, ownerID string, cat record.Category, id string) (*record.Record, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}
	var r record.Record
	if err := c.do(ctx, http.MethodGet, recordsPath(cat, id), token, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert creates a record. The gateway assigns id and created_at when absent.
func (c *Client) Insert(ctx context.Context, ownerID string, cat record.Category, fields map[string]any) (*record.Record, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}
	var r record.Record
	if err := c.do(ctx, http.MethodPost, recordsPath(cat, ""), token, fields, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update merges patch into one of the owner's records.
func (c *Client) Update(ctx context.Context, ownerID string, cat record.Category, id string, patch map[string]any) (*record.Record, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}
	var r record.Record
	if err := c.do(ctx, http.MethodPatch, recordsPath(cat, id), token, patch, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Delete removes one of the owner's records.
func (c *Client) Delete(ctx context.Context, ownerID string, cat record.Category, id string) error {
	token, err := c.authorize(ownerID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, recordsPath(cat, id), token, nil, nil)
}

// Action runs a provider action ("calls", "speech", "videos",
// "translations" or "cards") on the gateway.
func (c *Client) Action(ctx context.Context, ownerID, name string, body map[string]any) (*ActionResult, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}
	var res ActionResult
	if err := c.do(ctx, http.MethodPost, "/api/actions/"+url.PathEscape(name), token, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Audit returns the owner's most recent audit entries.
func (c *Client) Audit(ctx context.Context, ownerID string, limit int) ([]AuditEntry, error) {
	token, err := c.authorize(ownerID)
	if err != nil {
		return nil, err
	}
	path := "/api/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Ping checks the gateway's readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return record.Unavailable("remote", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return record.Unavailable("remote", fmt.Errorf("gateway not ready: status %d", resp.StatusCode))
	}
	return nil
}
