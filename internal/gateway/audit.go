// ABOUTME: Compliance audit trail: anchors entries on the ledger provider and appends them
// ABOUTME: Serves GET /api/audit with the caller's own entries, newest first

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/providers"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// AuditEntryResponse is the JSON form of one audit entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
	LedgerTx   string         `json:"ledger_tx,omitempty"`
}

// ListAuditResponse is the JSON response for GET /api/audit.
type ListAuditResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// audit anchors e on the ledger and appends it. Failures are logged and never
// fail the request that caused them.
func (g *Gateway) audit(ctx context.Context, e *store.AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = g.now().UTC()
	}

	payload, err := json.Marshal(struct {
		Owner  string         `json:"owner"`
		Action string         `json:"action"`
		Type   string         `json:"type"`
		Target string         `json:"target"`
		At     time.Time      `json:"at"`
		Detail map[string]any `json:"detail,omitempty"`
	}{e.OwnerID, string(e.Action), e.TargetType, e.TargetID, e.Timestamp, e.Detail})
	if err != nil {
		g.logger.Error("failed to encode audit entry", "action", e.Action, "error", err)
		return
	}

	res, err := g.providers.Ledger.Anchor(ctx, providers.LedgerEntry{
		OwnerID:  e.OwnerID,
		Action:   string(e.Action),
		TargetID: e.TargetID,
		Digest:   providers.Digest(string(payload)),
	})
	if err != nil {
		g.logger.Warn("ledger anchor failed, appending audit entry without transaction",
			"action", e.Action,
			"target_id", e.TargetID,
			"error", err,
		)
	} else {
		e.LedgerTx = res.ID
	}

	if err := g.store.AppendAuditLog(ctx, e); err != nil {
		g.logger.Error("failed to append audit log", "action", e.Action, "target_id", e.TargetID, "error", err)
	}
}

// auditRecord audits a mutation of rec.
func (g *Gateway) auditRecord(ctx context.Context, action store.AuditAction, rec *record.Record, detail map[string]any) {
	g.audit(ctx, &store.AuditEntry{
		OwnerID:    rec.OwnerID,
		Action:     action,
		TargetType: string(rec.Category),
		TargetID:   rec.ID,
		Detail:     detail,
	})
}

// parseAuditFilter reads action, target_type, target_id, since, until and
// limit from the query string.
func parseAuditFilter(r *http.Request, ownerID string) (store.AuditFilter, error) {
	f := store.AuditFilter{OwnerID: ownerID}
	q := r.URL.Query()
	var violations []record.Violation

	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		valid := false
		for _, a := range store.ValidAuditActions {
			if a == action {
				valid = true
				break
			}
		}
		if !valid {
			violations = append(violations, record.Violation{Field: "action", Message: "unknown audit action"})
		}
		f.Action = &action
	}
	if v := q.Get("target_type"); v != "" {
		f.TargetType = &v
	}
	if v := q.Get("target_id"); v != "" {
		f.TargetID = &v
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			violations = append(violations, record.Violation{Field: p.name, Message: "must be an RFC 3339 timestamp"})
			continue
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			violations = append(violations, record.Violation{Field: "limit", Message: "must be a non-negative integer"})
		}
		f.Limit = n
	}

	if len(violations) > 0 {
		return f, record.NewValidationError(violations...)
	}
	return f, nil
}

// handleListAudit handles GET /api/audit.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	f, err := parseAuditFilter(r, owner.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	entries, err := g.store.ListAuditLog(r.Context(), f)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := ListAuditResponse{Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryResponse{
			ID:         e.ID,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  e.Timestamp,
			Detail:     e.Detail,
			LedgerTx:   e.LedgerTx,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
