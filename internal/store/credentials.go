package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const credColumns = `id, owner_id, client_id, client_secret, refresh_token, project_id,
	COALESCE(access_token,''), COALESCE(expires_at, 'epoch'::timestamptz), google_email,
	supports_v3, fail_count, status, cooling_expires_at, created_at`

func scanCredential(row interface{ Scan(...any) error }) (*GoogleCredential, error) {
	var c GoogleCredential
	err := row.Scan(&c.ID, &c.OwnerID, &c.ClientID, &c.ClientSecret, &c.RefreshToken,
		&c.ProjectID, &c.AccessToken, &c.ExpiresAt, &c.GoogleEmail, &c.SupportsV3,
		&c.FailCount, &c.Status, &c.CoolingExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCredential fetches one Google credential.
func (s *Store) GetCredential(ctx context.Context, id string) (*GoogleCredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credColumns+` FROM google_credentials WHERE id = $1`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "credential", Key: id}
	}
	return c, err
}

func (s *Store) listCredentials(ctx context.Context, query string, args ...any) ([]*GoogleCredential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GoogleCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListActiveCredentials returns every ACTIVE row, ordered by creation so pool
// rebuilds are deterministic.
func (s *Store) ListActiveCredentials(ctx context.Context) ([]*GoogleCredential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credColumns+` FROM google_credentials WHERE status = $1 ORDER BY created_at`, StatusActive)
}

// ListCoolingExpired returns COOLING rows whose cooling window has passed.
func (s *Store) ListCoolingExpired(ctx context.Context, now time.Time) ([]*GoogleCredential, error) {
	return s.listCredentials(ctx, `
		SELECT `+credColumns+` FROM google_credentials
		WHERE status = $1 AND cooling_expires_at IS NOT NULL AND cooling_expires_at <= $2
		ORDER BY created_at`, StatusCooling, now)
}

// ListCredentialsForHealthCheck returns ACTIVE and COOLING rows, the set the
// nightly probe walks serially.
func (s *Store) ListCredentialsForHealthCheck(ctx context.Context) ([]*GoogleCredential, error) {
	return s.listCredentials(ctx, `
		SELECT `+credColumns+` FROM google_credentials
		WHERE status = $1 OR status = $2 ORDER BY created_at`, StatusActive, StatusCooling)
}

// CountOwnerCredentials reports (total, v3) ACTIVE+COOLING credentials owned
// by userID; tier derivation reads this.
func (s *Store) CountOwnerCredentials(ctx context.Context, userID string) (total, v3 int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE supports_v3)
		FROM google_credentials
		WHERE owner_id = $1 AND status IN ($2, $3)`,
		userID, StatusActive, StatusCooling)
	err = row.Scan(&total, &v3)
	return total, v3, err
}

// UpdateCredentialToken persists a refreshed access token.
func (s *Store) UpdateCredentialToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE google_credentials SET access_token = $2, expires_at = $3 WHERE id = $1`,
		id, accessToken, expiresAt)
	return err
}

// SetCredentialCooling moves a credential into COOLING until resetAt.
func (s *Store) SetCredentialCooling(ctx context.Context, id string, resetAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE google_credentials SET status = $2, cooling_expires_at = $3 WHERE id = $1`,
		id, StatusCooling, resetAt)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "credential", id)
}

// SetCredentialDead marks a credential DEAD; terminal until manual revival.
func (s *Store) SetCredentialDead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE google_credentials SET status = $2, cooling_expires_at = NULL WHERE id = $1`,
		id, StatusDead)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "credential", id)
}

// RestoreCredential returns a cooled credential to ACTIVE and clears its
// failure bookkeeping.
func (s *Store) RestoreCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE google_credentials
		SET status = $2, cooling_expires_at = NULL, fail_count = 0
		WHERE id = $1`, id, StatusActive)
	if err != nil {
		return err
	}
	return requireRowTouched(res, "credential", id)
}

// BumpCredentialFailCount increments fail_count and returns the new value.
// The two-strike rule reads the prior value from the returned count.
func (s *Store) BumpCredentialFailCount(ctx context.Context, id string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE google_credentials SET fail_count = fail_count + 1
		WHERE id = $1 RETURNING fail_count`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &ErrNotFound{Entity: "credential", Key: id}
		}
		return 0, err
	}
	return n, nil
}

// ResetCredentialFailCount zeroes fail_count (healthy probe outcome).
func (s *Store) ResetCredentialFailCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE google_credentials SET fail_count = 0 WHERE id = $1`, id)
	return err
}

func requireRowTouched(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return nil
}

// InsertCredential stores a new credential in VALIDATING state. The admin
// surface (out of scope here) flips it ACTIVE after its first verification.
func (s *Store) InsertCredential(ctx context.Context, c *GoogleCredential) error {
	if c.Status == "" {
		c.Status = StatusValidating
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO google_credentials
			(id, owner_id, client_id, client_secret, refresh_token, project_id,
			 access_token, expires_at, google_email, supports_v3, fail_count, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11)`,
		c.ID, c.OwnerID, c.ClientID, c.ClientSecret, c.RefreshToken, c.ProjectID,
		c.AccessToken, c.ExpiresAt, c.GoogleEmail, c.SupportsV3, c.Status)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}
