package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AppendUsageLog records one completed upstream call. Failures here must not
// fail the request; callers log and continue.
func (s *Store) AppendUsageLog(ctx context.Context, userID string, credentialID string, statusCode int) error {
	var cred sql.NullString
	if credentialID != "" {
		cred = sql.NullString{String: credentialID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_logs (user_id, credential_id, status_code)
		VALUES ($1, $2, $3)`, userID, cred, statusCode)
	return err
}

// CountErrorsSince supports the "errors today" admin filter.
func (s *Store) CountErrorsSince(ctx context.Context, since time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_logs WHERE status_code >= 400 AND created_at >= $1`, since)
	var n int64
	err := row.Scan(&n)
	return n, err
}

// GetSetting reads one system setting; missing keys return ("", ErrNotFound).
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = $1`, key)
	var v string
	err := row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ErrNotFound{Entity: "setting", Key: key}
	}
	return v, err
}

// SetSetting upserts one system setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// ListSettings returns the whole settings mirror.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
