// ABOUTME: Demo provider implementations used when a capability is not configured live
// ABOUTME: Results are clearly marked Demo and never pretend to be real resources

package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// DemoPrefix marks every identifier produced by a demo provider.
const DemoPrefix = "demo-"

// digest returns the hex SHA-256 of the parts joined by NUL bytes.
func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Digest exposes the payload hashing used for ledger entries.
func Digest(parts ...string) string {
	return digest(parts...)
}

func demoResult(provider, status string, output map[string]any) *Result {
	return &Result{
		ID:       DemoPrefix + uuid.NewString(),
		Status:   status,
		Provider: provider,
		Demo:     true,
		Output:   output,
	}
}

// DemoTelephony registers the call without dialing anything.
type DemoTelephony struct{}

func (DemoTelephony) PlaceCall(ctx context.Context, req CallRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "telephony", Op: "place call", Err: err}
	}
	return demoResult("telephony", "registered", nil), nil
}

// DemoVoice reports a completed synthesis with no audio.
type DemoVoice struct{}

func (DemoVoice) Synthesize(ctx context.Context, req SpeechRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "voice", Op: "synthesize", Err: err}
	}
	return demoResult("voice", "completed", map[string]any{
		"content_type": "audio/mpeg",
		"bytes":        0,
	}), nil
}

// DemoVideo reports the video as queued.
type DemoVideo struct{}

func (DemoVideo) GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "video", Op: "generate video", Err: err}
	}
	return demoResult("video", "queued", nil), nil
}

// DemoTranslation echoes the text tagged with the target locale.
type DemoTranslation struct{}

func (DemoTranslation) Translate(ctx context.Context, req TranslationRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "translation", Op: "translate", Err: err}
	}
	return demoResult("translation", "completed", map[string]any{
		"output": fmt.Sprintf("[%s] %s", req.TargetLocale, req.Text),
	}), nil
}

// DemoCard derives a content id from the card fields instead of pinning.
type DemoCard struct{}

func (DemoCard) StoreCard(ctx context.Context, req CardRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "card", Op: "store card", Err: err}
	}
	cid := DemoPrefix + digest(req.Name, req.Email, req.Title, req.Company)[:46]
	return &Result{
		ID:       cid,
		Status:   "pinned",
		Provider: "card",
		Demo:     true,
		Output:   map[string]any{"cid": cid},
	}, nil
}

// DemoLedger derives a deterministic transaction id from the entry. The id
// is never a real transaction and the result is always marked Demo.
type DemoLedger struct{}

func (DemoLedger) Anchor(ctx context.Context, entry LedgerEntry) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: "ledger", Op: "anchor", Err: err}
	}
	return &Result{
		ID:       DemoPrefix + digest(entry.OwnerID, entry.Action, entry.TargetID, entry.Digest),
		Status:   "unanchored",
		Provider: "ledger",
		Demo:     true,
	}, nil
}

var (
	_ TelephonyProvider   = DemoTelephony{}
	_ VoiceProvider       = DemoVoice{}
	_ VideoProvider       = DemoVideo{}
	_ TranslationProvider = DemoTranslation{}
	_ CardProvider        = DemoCard{}
	_ LedgerProvider      = DemoLedger{}
)
