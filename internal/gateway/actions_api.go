// ABOUTME: Provider-backed actions: calls, speech, videos, translations and business cards
// ABOUTME: Each action validates, calls one provider, writes one record and appends one audit entry

package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/providers"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// ActionResponse is returned by every provider action.
type ActionResponse struct {
	Record *record.Record    `json:"record"`
	Result *providers.Result `json:"result"`
	Audio  string            `json:"audio,omitempty"` // base64, speech only
}

// action describes one provider-backed operation. validate sees the raw
// body; invoke calls the provider and returns the fields of the record to
// write.
type action struct {
	name     string
	category record.Category
	validate func(ctx context.Context, owner record.Owner, body map[string]any) error
	invoke   func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error)
}

func (g *Gateway) registerActionRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(g.store, g.issuer)

	for path, a := range map[string]action{
		"POST /api/actions/calls":        g.callAction(),
		"POST /api/actions/speech":       g.speechAction(),
		"POST /api/actions/videos":       g.videoAction(),
		"POST /api/actions/translations": g.translationAction(),
		"POST /api/actions/cards":        g.cardAction(),
	} {
		mux.Handle(path, requireAuth(g.actionHandler(a)))
	}
}

// actionHandler runs a: validate, invoke the provider, write the record,
// audit. Nothing is written when validation or the provider fails.
func (g *Gateway) actionHandler(a action) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := auth.MustFromContext(r.Context()).Owner

		body, err := decodeFields(r)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		if err := a.validate(r.Context(), owner, body); err != nil {
			g.writeError(w, r, err)
			return
		}

		r, span := g.startSpan(r, "action."+a.name, a.category)
		res, fields, err := a.invoke(r.Context(), owner, body)
		if err != nil {
			endSpan(span, err)
			g.writeError(w, r, err)
			return
		}

		rec := &record.Record{OwnerID: owner.ID, Category: a.category, Fields: fields}
		err = g.insertRecord(r, rec)
		endSpan(span, err)
		if err != nil {
			g.writeError(w, r, err)
			return
		}

		g.audit(r.Context(), &store.AuditEntry{
			OwnerID:    owner.ID,
			Action:     store.AuditProviderAction,
			TargetType: string(a.category),
			TargetID:   rec.ID,
			Detail: map[string]any{
				"action":      a.name,
				"provider":    res.Provider,
				"provider_id": res.ID,
				"demo":        res.Demo,
			},
		})
		g.logger.Info("provider action completed",
			"action", a.name,
			"owner", owner.ID,
			"record_id", rec.ID,
			"demo", res.Demo,
		)

		resp := ActionResponse{Record: rec, Result: res}
		if len(res.Data) > 0 {
			resp.Audio = base64.StdEncoding.EncodeToString(res.Data)
		}
		writeJSON(w, http.StatusCreated, resp)
	})
}

// str returns body[key] when it is a string.
func str(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

// requireStrings reports each named field that is missing or not a
// non-empty string.
func requireStrings(body map[string]any, names ...string) []record.Violation {
	var violations []record.Violation
	for _, name := range names {
		if str(body, name) == "" {
			violations = append(violations, record.Violation{Field: name, Message: "is required"})
		}
	}
	return violations
}

func isMissing(body map[string]any, key string) bool {
	v, ok := body[key]
	return !ok || v == nil || v == ""
}

// only keeps the listed keys of body.
func only(body map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := body[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (g *Gateway) callAction() action {
	return action{
		name:     "call",
		category: record.CategoryCalls,
		validate: func(ctx context.Context, owner record.Owner, body map[string]any) error {
			if err := record.ValidateCreate(record.CategoryCalls, only(body, "agent_id", "to_number", "from_number")); err != nil {
				return err
			}
			_, err := g.store.GetRecord(ctx, owner.ID, record.CategoryAgents, str(body, "agent_id"))
			if errors.Is(err, store.ErrNotFound) {
				return record.NewValidationError(record.Violation{Field: "agent_id", Message: "unknown agent"})
			}
			return err
		},
		invoke: func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error) {
			res, err := g.providers.Telephony.PlaceCall(ctx, providers.CallRequest{
				AgentID:    str(body, "agent_id"),
				FromNumber: str(body, "from_number"),
				ToNumber:   str(body, "to_number"),
			})
			if err != nil {
				return nil, nil, err
			}
			fields := only(body, "agent_id", "to_number", "from_number")
			fields["status"] = res.Status
			fields["provider_call_id"] = res.ID
			fields["demo"] = res.Demo
			return res, fields, nil
		},
	}
}

func (g *Gateway) speechAction() action {
	return action{
		name:     "speech",
		category: record.CategoryActivityFeed,
		validate: func(ctx context.Context, owner record.Owner, body map[string]any) error {
			if v := requireStrings(body, "text", "voice_id"); len(v) > 0 {
				return record.NewValidationError(v...)
			}
			return nil
		},
		invoke: func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error) {
			res, err := g.providers.Voice.Synthesize(ctx, providers.SpeechRequest{
				VoiceID: str(body, "voice_id"),
				Text:    str(body, "text"),
			})
			if err != nil {
				return nil, nil, err
			}
			fields := map[string]any{
				"action":   "speech_synthesized",
				"detail":   str(body, "text"),
				"voice_id": str(body, "voice_id"),
				"bytes":    len(res.Data),
				"demo":     res.Demo,
			}
			return res, fields, nil
		},
	}
}

func (g *Gateway) videoAction() action {
	return action{
		name:     "video",
		category: record.CategoryVideoSummaries,
		validate: func(ctx context.Context, owner record.Owner, body map[string]any) error {
			err := record.ValidateCreate(record.CategoryVideoSummaries, only(body, "title", "script"))
			var violations []record.Violation
			var verr *record.ValidationError
			if errors.As(err, &verr) {
				violations = verr.Violations
			}
			violations = append(violations, requireStrings(body, "replica_id")...)
			if isMissing(body, "script") {
				violations = append(violations, record.Violation{Field: "script", Message: "is required"})
			}
			if len(violations) > 0 {
				return record.NewValidationError(violations...)
			}
			return nil
		},
		invoke: func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error) {
			res, err := g.providers.Video.GenerateVideo(ctx, providers.VideoRequest{
				ReplicaID: str(body, "replica_id"),
				Title:     str(body, "title"),
				Script:    str(body, "script"),
			})
			if err != nil {
				return nil, nil, err
			}
			fields := only(body, "title", "script")
			fields["video_id"] = res.ID
			fields["status"] = res.Status
			fields["demo"] = res.Demo
			if u, ok := res.Output["hosted_url"].(string); ok && u != "" {
				fields["hosted_url"] = u
			}
			return res, fields, nil
		},
	}
}

func (g *Gateway) translationAction() action {
	return action{
		name:     "translation",
		category: record.CategoryTranslations,
		validate: func(ctx context.Context, owner record.Owner, body map[string]any) error {
			return record.ValidateCreate(record.CategoryTranslations, only(body, "text", "target_locale", "source_locale"))
		},
		invoke: func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error) {
			res, err := g.providers.Translation.Translate(ctx, providers.TranslationRequest{
				Text:         str(body, "text"),
				SourceLocale: str(body, "source_locale"),
				TargetLocale: str(body, "target_locale"),
			})
			if err != nil {
				return nil, nil, err
			}
			fields := only(body, "text", "target_locale", "source_locale")
			fields["output"], _ = res.Output["output"].(string)
			fields["demo"] = res.Demo
			return res, fields, nil
		},
	}
}

func (g *Gateway) cardAction() action {
	return action{
		name:     "card",
		category: record.CategoryBusinessCards,
		validate: func(ctx context.Context, owner record.Owner, body map[string]any) error {
			return record.ValidateCreate(record.CategoryBusinessCards, only(body, "name", "email", "title", "company"))
		},
		invoke: func(ctx context.Context, owner record.Owner, body map[string]any) (*providers.Result, map[string]any, error) {
			res, err := g.providers.Card.StoreCard(ctx, providers.CardRequest{
				Name:    str(body, "name"),
				Email:   str(body, "email"),
				Title:   str(body, "title"),
				Company: str(body, "company"),
			})
			if err != nil {
				return nil, nil, err
			}
			fields := only(body, "name", "email", "title", "company")
			fields["cid"], _ = res.Output["cid"].(string)
			fields["demo"] = res.Demo
			return res, fields, nil
		},
	}
}
