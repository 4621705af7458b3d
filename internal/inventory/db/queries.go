package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// StoredRecord is a full record row as read back for display.
type StoredRecord struct {
	ID         int64           `json:"id" yaml:"id" toml:"id"`
	Type       string          `json:"type" yaml:"type" toml:"type"`
	Identity   schema.Identity `json:"identity" yaml:"identity" toml:"identity"`
	UID        string          `json:"uid,omitempty" yaml:"uid,omitempty" toml:"uid,omitempty"`
	Name       string          `json:"name" yaml:"name" toml:"name"`
	Attributes map[string]any  `json:"attributes" yaml:"attributes" toml:"attributes"`
	OwnerID    int64           `json:"owner_id,omitempty" yaml:"owner_id,omitempty" toml:"owner_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at" toml:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" yaml:"updated_at" toml:"updated_at"`
	ArchivedAt *time.Time      `json:"archived_at,omitempty" yaml:"archived_at,omitempty" toml:"archived_at,omitempty"`
}

// Live reports whether the record is connected to the remote inventory.
func (r *StoredRecord) Live() bool {
	return r.ArchivedAt == nil
}

// StoredRelation is one relation row. TargetID is 0 for a null relation.
type StoredRelation struct {
	Name       string          `json:"name" yaml:"name" toml:"name"`
	Position   int             `json:"position" yaml:"position" toml:"position"`
	TargetType string          `json:"target_type" yaml:"target_type" toml:"target_type"`
	Target     schema.Identity `json:"target" yaml:"target" toml:"target"`
	TargetID   int64           `json:"target_id,omitempty" yaml:"target_id,omitempty" toml:"target_id,omitempty"`
}

const recordColumns = `id, record_type, object_type, ref, uid, name, attributes,
	COALESCE(owner_id, 0), created_at, updated_at, archived_at`

func scanRecord(row interface{ Scan(...any) error }) (*StoredRecord, error) {
	var r StoredRecord
	var attrsJSON string
	var created, updated int64
	var archived sql.NullInt64

	err := row.Scan(
		&r.ID,
		&r.Type,
		&r.Identity.Type,
		&r.Identity.Ref,
		&r.UID,
		&r.Name,
		&attrsJSON,
		&r.OwnerID,
		&created,
		&updated,
		&archived,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(attrsJSON), &r.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes of record %d: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	r.ArchivedAt = nanos(archived)
	return &r, nil
}

// GetRecord retrieves a record by row id.
// Returns ErrNotFound if it does not exist.
func (db *DB) GetRecord(ctx context.Context, id int64) (*StoredRecord, error) {
	r, err := scanRecord(db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return r, nil
}

// FindRecord retrieves a record by type and identity.
// Returns ErrNotFound if it does not exist.
func (db *DB) FindRecord(ctx context.Context, recordType string, id schema.Identity) (*StoredRecord, error) {
	r, err := scanRecord(db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records
		WHERE record_type = ? AND object_type = ? AND ref = ?`, recordType, id.Type, id.Ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", recordType, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %s: %w", recordType, id, err)
	}
	return r, nil
}

// ListRecordsFilter configures ListRecords.
type ListRecordsFilter struct {
	// Type filters by record type (empty = all)
	Type string
	// ObjectType filters by remote object type (empty = all)
	ObjectType string
	// Archived selects archived records instead of live ones
	Archived bool
	// IncludeArchived returns live and archived records
	IncludeArchived bool
	// OwnerID restricts to children of one record (0 = no filter)
	OwnerID int64
	// NameLike matches names containing the substring (empty = all)
	NameLike string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListRecords retrieves records matching the filter, ordered by type then id.
func (db *DB) ListRecords(ctx context.Context, filter ListRecordsFilter) ([]*StoredRecord, error) {
	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "record_type = ?")
		args = append(args, filter.Type)
	}
	if filter.ObjectType != "" {
		conditions = append(conditions, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	switch {
	case filter.IncludeArchived:
	case filter.Archived:
		conditions = append(conditions, "archived_at IS NOT NULL")
	default:
		conditions = append(conditions, "archived_at IS NULL")
	}
	if filter.OwnerID != 0 {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.NameLike != "" {
		conditions = append(conditions, "instr(name, ?) > 0")
		args = append(args, filter.NameLike)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY record_type ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// RelationsOf returns the relations of a record in name and position order.
func (db *DB) RelationsOf(ctx context.Context, recordID int64) ([]*StoredRelation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, position, target_type, target_object_type, target_ref, COALESCE(target_id, 0)
		FROM relations
		WHERE record_id = ?
		ORDER BY name ASC, position ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations of %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []*StoredRelation
	for rows.Next() {
		var rel StoredRelation
		if err := rows.Scan(&rel.Name, &rel.Position, &rel.TargetType, &rel.Target.Type, &rel.Target.Ref, &rel.TargetID); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, &rel)
	}
	return out, rows.Err()
}

// RecordCount is the live and archived count of one record type.
type RecordCount struct {
	Live     int `json:"live" yaml:"live" toml:"live"`
	Archived int `json:"archived" yaml:"archived" toml:"archived"`
}

// CountRecords returns counts per record type.
func (db *DB) CountRecords(ctx context.Context) (map[string]RecordCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT record_type,
		       SUM(CASE WHEN archived_at IS NULL THEN 1 ELSE 0 END),
		       SUM(CASE WHEN archived_at IS NULL THEN 0 ELSE 1 END)
		FROM records
		GROUP BY record_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]RecordCount)
	for rows.Next() {
		var typ string
		var c RecordCount
		if err := rows.Scan(&typ, &c.Live, &c.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[typ] = c
	}
	return counts, rows.Err()
}
