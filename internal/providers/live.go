// ABOUTME: Live provider adapters that call the configured SaaS HTTP APIs
// ABOUTME: Every request carries the provider timeout and maps failures to ProviderError

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/config"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// apiClient is the shared HTTP plumbing behind every live adapter.
type apiClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAPIClient(name string, pc config.ProviderConfig, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return &apiClient{
		name:    name,
		baseURL: strings.TrimSuffix(pc.BaseURL, "/"),
		apiKey:  pc.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON and returns the raw response payload and content type.
func (c *apiClient) do(ctx context.Context, op, path string, setAuth func(*http.Request), body any) ([]byte, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", &ProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, "", &ProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", &ProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &ProviderError{Provider: c.name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, "", &ProviderError{Provider: c.name, Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(msg))}
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func (c *apiClient) postJSON(ctx context.Context, op, path string, setAuth func(*http.Request), body, out any) error {
	data, _, err := c.do(ctx, op, path, setAuth, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *apiClient) bearer(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *apiClient) header(name string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(name, c.apiKey)
	}
}

// LiveTelephony places calls through a Retell-style API.
type LiveTelephony struct {
	api *apiClient
}

func (p *LiveTelephony) PlaceCall(ctx context.Context, req CallRequest) (*Result, error) {
	var resp struct {
		CallID     string `json:"call_id"`
		CallStatus string `json:"call_status"`
	}
	body := map[string]string{
		"from_number":       req.FromNumber,
		"to_number":         req.ToNumber,
		"override_agent_id": req.AgentID,
	}
	if err := p.api.postJSON(ctx, "place call", "/v2/create-phone-call", p.api.bearer, body, &resp); err != nil {
		return nil, err
	}
	if resp.CallID == "" {
		return nil, &ProviderError{Provider: p.api.name, Op: "place call", Err: fmt.Errorf("response is missing call_id")}
	}
	return &Result{
		ID:       resp.CallID,
		Status:   resp.CallStatus,
		Provider: p.api.name,
	}, nil
}

// LiveVoice synthesizes speech through an ElevenLabs-style API.
type LiveVoice struct {
	api *apiClient
}

func (p *LiveVoice) Synthesize(ctx context.Context, req SpeechRequest) (*Result, error) {
	path := "/v1/text-to-speech/" + url.PathEscape(req.VoiceID)
	body := map[string]string{"text": req.Text}

	audio, contentType, err := p.api.do(ctx, "synthesize", path, p.api.header("xi-api-key"), body)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &Result{
		ID:       digest(req.VoiceID, req.Text)[:16],
		Status:   "completed",
		Provider: p.api.name,
		Output: map[string]any{
			"content_type": contentType,
			"bytes":        len(audio),
		},
		Data: audio,
	}, nil
}

// LiveVideo generates videos through a Tavus-style API.
type LiveVideo struct {
	api *apiClient
}

func (p *LiveVideo) GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	var resp struct {
		VideoID   string `json:"video_id"`
		Status    string `json:"status"`
		HostedURL string `json:"hosted_url"`
	}
	body := map[string]string{
		"replica_id": req.ReplicaID,
		"video_name": req.Title,
		"script":     req.Script,
	}
	if err := p.api.postJSON(ctx, "generate video", "/v2/videos", p.api.header("x-api-key"), body, &resp); err != nil {
		return nil, err
	}
	if resp.VideoID == "" {
		return nil, &ProviderError{Provider: p.api.name, Op: "generate video", Err: fmt.Errorf("response is missing video_id")}
	}
	out := map[string]any{}
	if resp.HostedURL != "" {
		out["hosted_url"] = resp.HostedURL
	}
	return &Result{ID: resp.VideoID, Status: resp.Status, Provider: p.api.name, Output: out}, nil
}

// LiveTranslation localizes text through a Lingo-style API.
type LiveTranslation struct {
	api *apiClient
}

func (p *LiveTranslation) Translate(ctx context.Context, req TranslationRequest) (*Result, error) {
	var resp struct {
		ID   string `json:"id"`
		Data string `json:"data"`
	}
	body := map[string]string{
		"text":         req.Text,
		"sourceLocale": req.SourceLocale,
		"targetLocale": req.TargetLocale,
	}
	if err := p.api.postJSON(ctx, "translate", "/v1/localize", p.api.bearer, body, &resp); err != nil {
		return nil, err
	}
	id := resp.ID
	if id == "" {
		id = digest(req.SourceLocale, req.TargetLocale, req.Text)[:16]
	}
	return &Result{
		ID:       id,
		Status:   "completed",
		Provider: p.api.name,
		Output:   map[string]any{"output": resp.Data},
	}, nil
}

// LiveCard pins business cards to IPFS through a pinning API.
type LiveCard struct {
	api *apiClient
}

func (p *LiveCard) StoreCard(ctx context.Context, req CardRequest) (*Result, error) {
	var resp struct {
		IpfsHash string `json:"IpfsHash"`
	}
	body := map[string]any{
		"pinataContent": map[string]string{
			"name":    req.Name,
			"email":   req.Email,
			"title":   req.Title,
			"company": req.Company,
		},
	}
	if err := p.api.postJSON(ctx, "store card", "/pinning/pinJSONToIPFS", p.api.bearer, body, &resp); err != nil {
		return nil, err
	}
	if resp.IpfsHash == "" {
		return nil, &ProviderError{Provider: p.api.name, Op: "store card", Err: fmt.Errorf("response is missing IpfsHash")}
	}
	return &Result{
		ID:       resp.IpfsHash,
		Status:   "pinned",
		Provider: p.api.name,
		Output:   map[string]any{"cid": resp.IpfsHash},
	}, nil
}

// LiveLedger anchors audit digests through a ledger notarization API.
type LiveLedger struct {
	api *apiClient
}

func (p *LiveLedger) Anchor(ctx context.Context, entry LedgerEntry) (*Result, error) {
	var resp struct {
		TxID  string `json:"tx_id"`
		Round uint64 `json:"confirmed_round"`
	}
	body := map[string]string{
		"note":   entry.Digest,
		"action": entry.Action,
	}
	if err := p.api.postJSON(ctx, "anchor", "/v1/anchor", p.api.header("X-API-Key"), body, &resp); err != nil {
		return nil, err
	}
	if resp.TxID == "" {
		return nil, &ProviderError{Provider: p.api.name, Op: "anchor", Err: fmt.Errorf("response is missing tx_id")}
	}
	return &Result{
		ID:       resp.TxID,
		Status:   "confirmed",
		Provider: p.api.name,
		Output:   map[string]any{"round": resp.Round},
	}, nil
}

var (
	_ TelephonyProvider   = (*LiveTelephony)(nil)
	_ VoiceProvider       = (*LiveVoice)(nil)
	_ VideoProvider       = (*LiveVideo)(nil)
	_ TranslationProvider = (*LiveTranslation)(nil)
	_ CardProvider        = (*LiveCard)(nil)
	_ LedgerProvider      = (*LiveLedger)(nil)
)
