// ABOUTME: Tests for provider selection, live HTTP adapters and demo outputs
// ABOUTME: Live adapters run against httptest servers

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blvckwall/blvckwall-gateway/internal/config"
)

func liveConfig(url string) config.ProviderConfig {
	return config.ProviderConfig{Mode: config.ModeLive, APIKey: "test-key", BaseURL: url}
}

func TestNew_SelectsModesOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	set, err := New(config.ProvidersConfig{
		Telephony: liveConfig(srv.URL),
		Ledger:    config.ProviderConfig{Mode: config.ModeDemo},
		Timeout:   time.Second,
	}, nil)
	require.NoError(t, err)

	assert.IsType(t, &LiveTelephony{}, set.Telephony)
	assert.IsType(t, DemoVoice{}, set.Voice)
	assert.IsType(t, DemoLedger{}, set.Ledger)
}

func TestNew_LiveWithoutKey(t *testing.T) {
	_, err := New(config.ProvidersConfig{
		Video: config.ProviderConfig{Mode: config.ModeLive, BaseURL: "https://example.invalid"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video")
}

func TestLiveTelephony_PlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/create-phone-call", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15550001111", body["to_number"])
		assert.Equal(t, "agent-1", body["override_agent_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"call_id":"call_123","call_status":"registered"}`))
	}))
	defer srv.Close()

	p := &LiveTelephony{api: newAPIClient("telephony", liveConfig(srv.URL), time.Second)}
	res, err := p.PlaceCall(context.Background(), CallRequest{AgentID: "agent-1", ToNumber: "+15550001111"})
	require.NoError(t, err)
	assert.Equal(t, "call_123", res.ID)
	assert.Equal(t, "registered", res.Status)
	assert.False(t, res.Demo)
}

func TestLiveVoice_ReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/ava", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-audio"))
	}))
	defer srv.Close()

	p := &LiveVoice{api: newAPIClient("voice", liveConfig(srv.URL), time.Second)}
	res, err := p.Synthesize(context.Background(), SpeechRequest{VoiceID: "ava", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-fake-audio"), res.Data)
	assert.Equal(t, len("ID3-fake-audio"), res.Output["bytes"])
}

func TestLiveAdapters_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"quota exceeded"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	p := &LiveVideo{api: newAPIClient("video", liveConfig(srv.URL), time.Second)}
	_, err := p.GenerateVideo(context.Background(), VideoRequest{ReplicaID: "r1", Script: "hi"})

	require.True(t, errors.Is(err, ErrProvider))
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
	assert.Contains(t, perr.Error(), "quota exceeded")
}

func TestLiveAdapters_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := &LiveLedger{api: newAPIClient("ledger", liveConfig(srv.URL), 50*time.Millisecond)}
	_, err := p.Anchor(context.Background(), LedgerEntry{Digest: "abc"})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Zero(t, perr.StatusCode)
}

func TestLiveAdapters_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := &LiveCard{api: newAPIClient("card", liveConfig(srv.URL), time.Second)}
	_, err := p.StoreCard(context.Background(), CardRequest{Name: "Ada"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "IpfsHash"))
}

func TestLiveTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "es", body["targetLocale"])
		_, _ = w.Write([]byte(`{"data":"hola"}`))
	}))
	defer srv.Close()

	p := &LiveTranslation{api: newAPIClient("translation", liveConfig(srv.URL), time.Second)}
	res, err := p.Translate(context.Background(), TranslationRequest{Text: "hello", SourceLocale: "en", TargetLocale: "es"})
	require.NoError(t, err)
	assert.Equal(t, "hola", res.Output["output"])
	assert.NotEmpty(t, res.ID)
}

func TestDemoProviders_AreMarked(t *testing.T) {
	ctx := context.Background()
	set := Demo()

	call, err := set.Telephony.PlaceCall(ctx, CallRequest{ToNumber: "+15550001111"})
	require.NoError(t, err)
	assert.True(t, call.Demo)
	assert.True(t, strings.HasPrefix(call.ID, DemoPrefix))

	tr, err := set.Translation.Translate(ctx, TranslationRequest{Text: "hello", TargetLocale: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "[fr] hello", tr.Output["output"])

	card, err := set.Card.StoreCard(ctx, CardRequest{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, card.ID, card.Output["cid"])
}

func TestDemoLedger_Deterministic(t *testing.T) {
	ctx := context.Background()
	entry := LedgerEntry{OwnerID: "u1", Action: "create_record", TargetID: "r1", Digest: Digest("payload")}

	a, err := DemoLedger{}.Anchor(ctx, entry)
	require.NoError(t, err)
	b, err := DemoLedger{}.Anchor(ctx, entry)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.True(t, a.Demo)
	assert.True(t, strings.HasPrefix(a.ID, DemoPrefix))
	assert.Equal(t, "unanchored", a.Status)

	entry.TargetID = "r2"
	c, _ := DemoLedger{}.Anchor(ctx, entry)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestDemoProviders_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DemoVideo{}.GenerateVideo(ctx, VideoRequest{})
	assert.True(t, errors.Is(err, ErrProvider))
	assert.True(t, errors.Is(err, context.Canceled))
}
