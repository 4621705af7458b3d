package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Tx is a pass transaction. It implements graph.Tx.
type Tx struct {
	db *DB
	tx *sql.Tx
}

var _ graph.Tx = (*Tx)(nil)

// Begin starts a pass transaction. It implements graph.Store.
func (db *DB) Begin(ctx context.Context) (graph.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{db: db, tx: tx}, nil
}

const storedColumns = `id, record_type, object_type, ref, uid, COALESCE(owner_id, 0), created_at, archived_at`

func scanStored(row interface{ Scan(...any) error }) (*graph.StoredRecord, error) {
	var s graph.StoredRecord
	var created int64
	var archived sql.NullInt64
	if err := row.Scan(&s.ID, &s.Type, &s.Identity.Type, &s.Identity.Ref, &s.UID, &s.OwnerID, &created, &archived); err != nil {
		return nil, err
	}
	s.CreatedAt = *nanos(sql.NullInt64{Int64: created, Valid: true})
	s.ArchivedAt = nanos(archived)
	return &s, nil
}

func (t *Tx) queryOne(ctx context.Context, query string, args ...any) (*graph.StoredRecord, error) {
	s, err := scanStored(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (t *Tx) queryAll(ctx context.Context, query string, args ...any) ([]*graph.StoredRecord, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*graph.StoredRecord
	for rows.Next() {
		s, err := scanStored(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindRecord returns the record with the given type and identity.
func (t *Tx) FindRecord(ctx context.Context, recordType string, id schema.Identity) (*graph.StoredRecord, error) {
	return t.queryOne(ctx, `SELECT `+storedColumns+` FROM records
		WHERE record_type = ? AND object_type = ? AND ref = ?`,
		recordType, id.Type, id.Ref)
}

// FindLive returns the record only if it is live.
func (t *Tx) FindLive(ctx context.Context, recordType string, id schema.Identity) (*graph.StoredRecord, error) {
	return t.queryOne(ctx, `SELECT `+storedColumns+` FROM records
		WHERE record_type = ? AND object_type = ? AND ref = ? AND archived_at IS NULL`,
		recordType, id.Type, id.Ref)
}

// FindDisconnected returns archived records sharing uid, earliest first.
func (t *Tx) FindDisconnected(ctx context.Context, recordType, uid string) ([]*graph.StoredRecord, error) {
	return t.queryAll(ctx, `SELECT `+storedColumns+` FROM records
		WHERE record_type = ? AND uid = ? AND archived_at IS NOT NULL
		ORDER BY created_at ASC, id ASC`,
		recordType, uid)
}

// ListLive returns the live primary records of one object type.
func (t *Tx) ListLive(ctx context.Context, recordType, objectType string) ([]*graph.StoredRecord, error) {
	return t.queryAll(ctx, `SELECT `+storedColumns+` FROM records
		WHERE record_type = ? AND object_type = ? AND archived_at IS NULL AND owner_id IS NULL
		ORDER BY id`,
		recordType, objectType)
}

// ListChildren returns the records owned by ownerID.
func (t *Tx) ListChildren(ctx context.Context, ownerID int64) ([]*graph.StoredRecord, error) {
	return t.queryAll(ctx, `SELECT `+storedColumns+` FROM records WHERE owner_id = ? ORDER BY id`, ownerID)
}

// Upsert inserts rec when existingID is 0 and otherwise rewrites that row.
func (t *Tx) Upsert(ctx context.Context, existingID int64, rec *graph.Record, ownerID int64) (int64, error) {
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	now := t.db.now().UnixNano()

	if existingID == 0 {
		res, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (
			record_type, object_type, ref, uid, name, attributes,
			owner_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Type, rec.ID.Type, rec.ID.Ref, rec.UID, rec.Name, string(attrsJSON),
			nullID(ownerID), now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record: %w", err)
		}
		return res.LastInsertId()
	}

	_, err = t.tx.ExecContext(ctx, `
	UPDATE records SET
		record_type = ?,
		object_type = ?,
		ref = ?,
		uid = ?,
		name = ?,
		attributes = ?,
		owner_id = ?,
		updated_at = ?,
		archived_at = NULL
	WHERE id = ?`,
		rec.Type, rec.ID.Type, rec.ID.Ref, rec.UID, rec.Name, string(attrsJSON),
		nullID(ownerID), now, existingID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update record %d: %w", existingID, err)
	}
	return existingID, nil
}

// SetRelations replaces the relations of recordID.
func (t *Tx) SetRelations(ctx context.Context, recordID int64, relations []graph.ResolvedRelation) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM relations WHERE record_id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to clear relations: %w", err)
	}
	for _, rel := range relations {
		_, err := t.tx.ExecContext(ctx, `
		INSERT INTO relations (
			record_id, name, position, target_type, target_object_type, target_ref, target_id
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			recordID, rel.Name, rel.Position, rel.Target.Type, rel.Target.ID.Type, rel.Target.ID.Ref,
			nullID(rel.TargetID),
		)
		if err != nil {
			return fmt.Errorf("failed to insert relation %s[%d]: %w", rel.Name, rel.Position, err)
		}
	}
	return nil
}

// Archive marks a record disconnected.
func (t *Tx) Archive(ctx context.Context, recordID int64) error {
	now := t.db.now().UnixNano()
	if _, err := t.tx.ExecContext(ctx, `UPDATE records SET archived_at = ?, updated_at = ? WHERE id = ?`, now, now, recordID); err != nil {
		return fmt.Errorf("failed to archive record %d: %w", recordID, err)
	}
	return nil
}

// Delete removes a record. Children and relations cascade; relations that
// pointed at it become null.
func (t *Tx) Delete(ctx context.Context, recordID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, recordID); err != nil {
		return fmt.Errorf("failed to delete record %d: %w", recordID, err)
	}
	return nil
}

// Commit makes the pass visible.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the pass.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
