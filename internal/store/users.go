package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, username, password_hash, role, active, COALESCE(discord_id,''),
	today_used, daily_limit, level, claude_limit, gemini3_limit, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.DiscordID,
		&u.TodayUsed, &u.DailyLimit, &u.Level, &u.ClaudeLimit, &u.Gemini3Limit, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "user", Key: id}
	}
	return u, err
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "user", Key: username}
	}
	return u, err
}

// CreateUser inserts a user with a bcrypt-hashed password and returns it.
func (s *Store) CreateUser(ctx context.Context, username, password, role string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, today_used, daily_limit, level)
		VALUES ($1, $2, $3, $4, TRUE, 0, 300, 0)`,
		id, username, string(hash), role)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// EnsureAdminUser creates (or leaves untouched) the bootstrap admin account.
func (s *Store) EnsureAdminUser(ctx context.Context, username, password string) (*User, error) {
	existing, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	var nf *ErrNotFound
	if !errors.As(err, &nf) {
		return nil, err
	}
	return s.CreateUser(ctx, username, password, RoleAdmin)
}

// IncrementTodayUsed bumps the daily counter by delta.
func (s *Store) IncrementTodayUsed(ctx context.Context, userID string, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET today_used = today_used + $2 WHERE id = $1`, userID, delta)
	return err
}

// ResetAllTodayUsed zeroes every user's daily counter. Runs once per UTC+8 day.
func (s *Store) ResetAllTodayUsed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET today_used = 0 WHERE today_used <> 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
