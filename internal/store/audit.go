// ABOUTME: Audit log entity and store methods for tracking record mutations and provider actions
// ABOUTME: Records who did what to which resource, optionally anchored on a ledger transaction

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditSignup         AuditAction = "signup"
	AuditLogin          AuditAction = "login"
	AuditLogout         AuditAction = "logout"
	AuditCreateRecord   AuditAction = "create_record"
	AuditUpdateRecord   AuditAction = "update_record"
	AuditDeleteRecord   AuditAction = "delete_record"
	AuditProviderAction AuditAction = "provider_action"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditSignup,
	AuditLogin,
	AuditLogout,
	AuditCreateRecord,
	AuditUpdateRecord,
	AuditDeleteRecord,
	AuditProviderAction,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	OwnerID    string         // whose data was touched
	Action     AuditAction    // what action was performed
	TargetType string         // category name, "user" or provider name
	TargetID   string         // ID of the affected resource
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
	LedgerTx   string         // ledger transaction id, empty when not anchored
}

// AuditFilter specifies filtering options for listing audit entries.
// OwnerID is required; entries are never listed across owners.
type AuditFilter struct {
	OwnerID    string
	Since      *time.Time   // entries at or after this time
	Until      *time.Time   // entries at or before this time
	Action     *AuditAction // filter by action type
	TargetType *string      // filter by target type
	TargetID   *string      // filter by target ID
	Limit      int          // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	var ledgerTx *string
	if e.LedgerTx != "" {
		ledgerTx = &e.LedgerTx
	}

	query := `
		INSERT INTO audit_log (audit_id, owner_id, action, target_type, target_id, ts, detail_json, ledger_tx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		e.ID,
		e.OwnerID,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
		ledgerTx,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"owner", e.OwnerID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// buildAuditQuery assembles the WHERE clause from the set filter fields.
func buildAuditQuery(f AuditFilter) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{f.OwnerID}

	if f.Since != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, formatTime(*f.Until))
	}
	if f.Action != nil {
		clauses = append(clauses, "action = ?")
		args = append(args, string(*f.Action))
	}
	if f.TargetType != nil {
		clauses = append(clauses, "target_type = ?")
		args = append(args, *f.TargetType)
	}
	if f.TargetID != nil {
		clauses = append(clauses, "target_id = ?")
		args = append(args, *f.TargetID)
	}

	query := `
		SELECT audit_id, owner_id, action, target_type, target_id, ts, detail_json, ledger_tx
		FROM audit_log
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY ts DESC, audit_id DESC
		LIMIT ?`
	args = append(args, normalizeAuditLimit(f.Limit))
	return query, args
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON, ledgerTx *string

	if err := scanner.Scan(
		&e.ID,
		&e.OwnerID,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
		&ledgerTx,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = parseTime(tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	if ledgerTx != nil {
		e.LedgerTx = *ledgerTx
	}
	return e, nil
}

// ListAuditLog returns the owner's audit entries matching the filter.
// Results are returned newest first (DESC by timestamp).
func (s *SQLStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	if f.OwnerID == "" {
		return nil, fmt.Errorf("listing audit log: owner is required")
	}

	query, args := buildAuditQuery(f)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
