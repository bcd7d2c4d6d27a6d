package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const agColumns = `id, owner_id, refresh_token, project_id, COALESCE(session_id,''),
	COALESCE(access_token,''), COALESCE(expires_at, 'epoch'::timestamptz), COALESCE(email,''),
	fail_count, enabled, active, status, cooling_expires_at, created_at`

func scanAntigravity(row interface{ Scan(...any) error }) (*AntigravityToken, error) {
	var t AntigravityToken
	err := row.Scan(&t.ID, &t.OwnerID, &t.RefreshToken, &t.ProjectID, &t.SessionID,
		&t.AccessToken, &t.ExpiresAt, &t.Email, &t.FailCount, &t.Enabled, &t.Active,
		&t.Status, &t.CoolingExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAntigravityToken fetches one token row.
func (s *Store) GetAntigravityToken(ctx context.Context, id string) (*AntigravityToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agColumns+` FROM antigravity_tokens WHERE id = $1`, id)
	t, err := scanAntigravity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "antigravity_token", Key: id}
	}
	return t, err
}

func (s *Store) listAntigravity(ctx context.Context, query string, args ...any) ([]*AntigravityToken, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AntigravityToken
	for rows.Next() {
		t, err := scanAntigravity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListUsableAntigravityTokens returns enabled, active, non-dead tokens.
func (s *Store) ListUsableAntigravityTokens(ctx context.Context) ([]*AntigravityToken, error) {
	return s.listAntigravity(ctx, `
		SELECT `+agColumns+` FROM antigravity_tokens
		WHERE enabled AND active AND status = $1 ORDER BY created_at`, StatusActive)
}

// ListAntigravityForHealthCheck returns every enabled token.
func (s *Store) ListAntigravityForHealthCheck(ctx context.Context) ([]*AntigravityToken, error) {
	return s.listAntigravity(ctx, `
		SELECT `+agColumns+` FROM antigravity_tokens WHERE enabled ORDER BY created_at`)
}

// UpdateAntigravityToken persists a refreshed access token.
func (s *Store) UpdateAntigravityToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE antigravity_tokens SET access_token = $2, expires_at = $3 WHERE id = $1`,
		id, accessToken, expiresAt)
	return err
}

// SetAntigravityCooling mirrors the Google-family cooling transition.
func (s *Store) SetAntigravityCooling(ctx context.Context, id string, resetAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE antigravity_tokens SET status = $2, cooling_expires_at = $3 WHERE id = $1`,
		id, StatusCooling, resetAt)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "antigravity_token", id)
}

// SetAntigravityDead marks the token DEAD and inactive.
func (s *Store) SetAntigravityDead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE antigravity_tokens
		SET status = $2, active = FALSE, cooling_expires_at = NULL WHERE id = $1`,
		id, StatusDead)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "antigravity_token", id)
}

// ListAntigravityCoolingExpired returns cooled tokens past their window.
func (s *Store) ListAntigravityCoolingExpired(ctx context.Context, now time.Time) ([]*AntigravityToken, error) {
	return s.listAntigravity(ctx, `
		SELECT `+agColumns+` FROM antigravity_tokens
		WHERE status = $1 AND cooling_expires_at IS NOT NULL AND cooling_expires_at <= $2
		ORDER BY created_at`, StatusCooling, now)
}

// RestoreAntigravityToken returns a cooled token to ACTIVE.
func (s *Store) RestoreAntigravityToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE antigravity_tokens
		SET status = $2, cooling_expires_at = NULL, fail_count = 0
		WHERE id = $1`, id, StatusActive)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "antigravity_token", id)
}

// BumpAntigravityFailCount increments fail_count, returning the new value.
func (s *Store) BumpAntigravityFailCount(ctx context.Context, id string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE antigravity_tokens SET fail_count = fail_count + 1
		WHERE id = $1 RETURNING fail_count`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &ErrNotFound{Entity: "antigravity_token", Key: id}
		}
		return 0, err
	}
	return n, nil
}

// ResetAntigravityFailCount zeroes fail_count after a healthy probe.
func (s *Store) ResetAntigravityFailCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE antigravity_tokens SET fail_count = 0 WHERE id = $1`, id)
	return err
}
