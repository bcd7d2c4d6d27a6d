package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const apiKeyColumns = `id, key, user_id, type, active, created_at`

// GetAPIKey looks up a key by its opaque bearer value.
func (s *Store) GetAPIKey(ctx context.Context, key string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key = $1`, key)
	var k APIKey
	err := row.Scan(&k.ID, &k.Key, &k.UserID, &k.Type, &k.Active, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "api_key", Key: "sk-***"}
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey mints a new sk- key for userID. ADMIN-typed keys may only be
// requested by admin callers; enforcement happens at the handler.
func (s *Store) CreateAPIKey(ctx context.Context, userID, keyType string) (*APIKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	k := &APIKey{
		ID:     uuid.NewString(),
		Key:    "sk-" + hex.EncodeToString(raw),
		UserID: userID,
		Type:   keyType,
		Active: true,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key, user_id, type, active)
		VALUES ($1, $2, $3, $4, TRUE)`,
		k.ID, k.Key, k.UserID, k.Type)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

// DeactivateAPIKey revokes a key without deleting the row.
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, id)
	return err
}

// DeleteAPIKey removes a key row.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return err
}

// EnsureAdminKey guarantees the bootstrap admin user owns at least one
// active ADMIN key and returns it.
func (s *Store) EnsureAdminKey(ctx context.Context, userID string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1 AND type = $2 AND active ORDER BY created_at LIMIT 1`,
		userID, KeyTypeAdmin)
	var k APIKey
	err := row.Scan(&k.ID, &k.Key, &k.UserID, &k.Type, &k.Active, &k.CreatedAt)
	if err == nil {
		return &k, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return s.CreateAPIKey(ctx, userID, KeyTypeAdmin)
}
