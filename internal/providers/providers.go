// ABOUTME: Capability interfaces for external SaaS providers and their wiring
// ABOUTME: Live or Demo implementations are selected once from configuration

package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blvckwall/blvckwall-gateway/internal/config"
)

// Mode selects between a real adapter and its demo stand-in.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// ErrProvider matches every *ProviderError with errors.Is.
var ErrProvider = errors.New("provider error")

// ProviderError reports a failed call to an external provider.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Result is what every provider returns: the provider's resource id, its
// status and any provider-specific output.
type Result struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Provider string         `json:"provider"`
	Demo     bool           `json:"demo"`
	Output   map[string]any `json:"output,omitempty"`
	// Data carries binary payloads such as synthesized audio.
	Data []byte `json:"-"`
}

// CallRequest starts an outbound phone call driven by an agent.
type CallRequest struct {
	AgentID    string
	FromNumber string
	ToNumber   string
}

// SpeechRequest synthesizes text with a voice.
type SpeechRequest struct {
	VoiceID string
	Text    string
}

// VideoRequest generates a video from a script.
type VideoRequest struct {
	ReplicaID string
	Title     string
	Script    string
}

// TranslationRequest translates text between locales.
type TranslationRequest struct {
	Text         string
	SourceLocale string
	TargetLocale string
}

// CardRequest pins a digital business card.
type CardRequest struct {
	Name    string
	Email   string
	Title   string
	Company string
}

// LedgerEntry is anchored by the audit ledger.
type LedgerEntry struct {
	OwnerID  string
	Action   string
	TargetID string
	Digest   string // hex SHA-256 of the audited payload
}

// TelephonyProvider places outbound calls on behalf of an agent.
type TelephonyProvider interface {
	PlaceCall(ctx context.Context, req CallRequest) (*Result, error)
}

// VoiceProvider turns text into speech. Audio comes back in Result.Data.
type VoiceProvider interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Result, error)
}

// VideoProvider renders a presenter video from a script.
type VideoProvider interface {
	GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error)
}

// TranslationProvider localizes text into a target locale.
type TranslationProvider interface {
	Translate(ctx context.Context, req TranslationRequest) (*Result, error)
}

// CardProvider publishes a business card and returns its content id.
type CardProvider interface {
	StoreCard(ctx context.Context, req CardRequest) (*Result, error)
}

// LedgerProvider anchors an audit digest and returns the transaction id.
type LedgerProvider interface {
	Anchor(ctx context.Context, entry LedgerEntry) (*Result, error)
}

// Set bundles one implementation of each capability.
type Set struct {
	Telephony   TelephonyProvider
	Voice       VoiceProvider
	Video       VideoProvider
	Translation TranslationProvider
	Card        CardProvider
	Ledger      LedgerProvider
}

// Demo returns a Set where every capability is a demo implementation.
func Demo() *Set {
	return &Set{
		Telephony:   DemoTelephony{},
		Voice:       DemoVoice{},
		Video:       DemoVideo{},
		Translation: DemoTranslation{},
		Card:        DemoCard{},
		Ledger:      DemoLedger{},
	}
}

// New builds a provider Set from configuration. Each provider is resolved
// exactly once here; nothing downstream branches on key presence.
func New(cfg config.ProvidersConfig, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "providers")

	set := Demo()
	modes := map[string]Mode{}

	live := func(name string, pc config.ProviderConfig) (*apiClient, bool, error) {
		if !pc.IsLive() {
			modes[name] = ModeDemo
			return nil, false, nil
		}
		if pc.APIKey == "" {
			return nil, false, fmt.Errorf("%s: live mode requires an api_key", name)
		}
		modes[name] = ModeLive
		return newAPIClient(name, pc, cfg.Timeout), true, nil
	}

	if c, ok, err := live("telephony", cfg.Telephony); err != nil {
		return nil, err
	} else if ok {
		set.Telephony = &LiveTelephony{api: c}
	}
	if c, ok, err := live("voice", cfg.Voice); err != nil {
		return nil, err
	} else if ok {
		set.Voice = &LiveVoice{api: c}
	}
	if c, ok, err := live("video", cfg.Video); err != nil {
		return nil, err
	} else if ok {
		set.Video = &LiveVideo{api: c}
	}
	if c, ok, err := live("translation", cfg.Translation); err != nil {
		return nil, err
	} else if ok {
		set.Translation = &LiveTranslation{api: c}
	}
	if c, ok, err := live("card", cfg.Card); err != nil {
		return nil, err
	} else if ok {
		set.Card = &LiveCard{api: c}
	}
	if c, ok, err := live("ledger", cfg.Ledger); err != nil {
		return nil, err
	} else if ok {
		set.Ledger = &LiveLedger{api: c}
	}

	logger.Info("providers configured",
		"telephony", modes["telephony"],
		"voice", modes["voice"],
		"video", modes["video"],
		"translation", modes["translation"],
		"card", modes["card"],
		"ledger", modes["ledger"],
	)

	return set, nil
}
