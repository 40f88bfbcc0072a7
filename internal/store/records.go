// ABOUTME: Owner-scoped record persistence: one table, JSON field payloads
// ABOUTME: Every query filters by owner so other owners' rows read as not found

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

const recordColumns = `id, owner_id, category, data, created_at, updated_at, version`

// ListRecords returns the owner's records in a category, newest first.
func (s *SQLStore) ListRecords(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE owner_id = ? AND category = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{ownerID, string(c)}
	// field filters are applied after decoding, so only push the limit down without them
	if len(f.Fields) == 0 && f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return f.Apply(records), nil
}

// GetRecord retrieves one of the owner's records.
func (s *SQLStore) GetRecord(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE owner_id = ? AND category = ? AND id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), ownerID, string(c), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// InsertRecord stores r, assigning ID, CreatedAt and Version when unset.
func (s *SQLStore) InsertRecord(ctx context.Context, r *record.Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Version == 0 {
		r.Version = 1
	}

	data, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshaling record fields: %w", err)
	}

	query := `INSERT INTO records (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		r.ID,
		r.OwnerID,
		string(r.Category),
		string(data),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		r.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("inserting record: %w", err)
	}

	s.logger.Debug("inserted record", "id", r.ID, "owner", r.OwnerID, "category", r.Category)
	return nil
}

// UpdateRecord merges patch into the owner's record and bumps its version.
// Concurrent updates are last-write-wins.
func (s *SQLStore) UpdateRecord(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + recordColumns + ` FROM records WHERE owner_id = ? AND category = ? AND id = ?`
	r, err := scanRecord(tx.QueryRowContext(ctx, s.rebind(query), ownerID, string(c), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Merge(patch)
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling record fields: %w", err)
	}

	update := `UPDATE records SET data = ?, updated_at = ?, version = ?
		WHERE owner_id = ? AND category = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, s.rebind(update),
		string(data), formatTime(r.UpdatedAt), r.Version, ownerID, string(c), id,
	); err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return r, nil
}

// DeleteRecord removes one of the owner's records.
func (s *SQLStore) DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM records WHERE owner_id = ? AND category = ? AND id = ?`),
		ownerID, string(c), id,
	)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*record.Record, error) {
	var r record.Record
	var category, data, createdAtStr, updatedAtStr string
	if err := scanner.Scan(&r.ID, &r.OwnerID, &category, &data, &createdAtStr, &updatedAtStr, &r.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	r.Category = record.Category(category)

	if err := json.Unmarshal([]byte(data), &r.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling record fields: %w", err)
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}

	var err error
	r.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	r.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &r, nil
}
