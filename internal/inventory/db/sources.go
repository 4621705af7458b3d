package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SourceStatus is the synchronization state of one remote source.
type SourceStatus struct {
	Name          string     `json:"name" yaml:"name" toml:"name"`
	LastVersion   string     `json:"last_version" yaml:"last_version" toml:"last_version"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty" toml:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty" yaml:"last_error,omitempty" toml:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty" yaml:"last_error_at,omitempty" toml:"last_error_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at" toml:"updated_at"`
}

// Healthy reports whether the last recorded event was a success.
func (s *SourceStatus) Healthy() bool {
	if s.LastErrorAt == nil {
		return true
	}
	return s.LastSuccessAt != nil && s.LastSuccessAt.After(*s.LastErrorAt)
}

// RecordStatus records the outcome of a pass for source. A nil statusErr
// records a success at version; otherwise the error is recorded and the last
// good version is kept.
func (db *DB) RecordStatus(ctx context.Context, source, version string, statusErr error) error {
	now := db.now().UnixNano()

	var err error
	if statusErr == nil {
		_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sources (name, last_version, last_success_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_version = excluded.last_version,
			last_success_at = excluded.last_success_at,
			updated_at = excluded.updated_at
		`, source, version, now, now)
	} else {
		_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sources (name, last_error, last_error_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = excluded.updated_at
		`, source, statusErr.Error(), now, now)
	}
	if err != nil {
		return fmt.Errorf("failed to record status of %s: %w", source, err)
	}
	return nil
}

const sourceColumns = `name, last_version, last_success_at, last_error, last_error_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*SourceStatus, error) {
	var s SourceStatus
	var success, failure sql.NullInt64
	var updated int64
	if err := row.Scan(&s.Name, &s.LastVersion, &success, &s.LastError, &failure, &updated); err != nil {
		return nil, err
	}
	s.LastSuccessAt = nanos(success)
	s.LastErrorAt = nanos(failure)
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return &s, nil
}

// GetSourceStatus returns the status of one source.
// Returns ErrNotFound if nothing has been recorded for it.
func (db *DB) GetSourceStatus(ctx context.Context, source string) (*SourceStatus, error) {
	s, err := scanSource(db.conn.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", source, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", source, err)
	}
	return s, nil
}

// ListSourceStatus returns the status of every known source by name.
func (db *DB) ListSourceStatus(ctx context.Context) ([]*SourceStatus, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []*SourceStatus
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
