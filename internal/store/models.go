package store

import (
	"database/sql"
	"time"
)

// Role values.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// API key types.
const (
	KeyTypeNormal = "NORMAL"
	KeyTypeAdmin  = "ADMIN"
)

// Credential statuses. VALIDATING rows never serve traffic; DEAD is terminal
// until manually revived.
const (
	StatusValidating = "VALIDATING"
	StatusActive     = "ACTIVE"
	StatusCooling    = "COOLING"
	StatusDead       = "DEAD"
)

// User is a proxy tenant.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Active       bool
	DiscordID    string
	TodayUsed    int64
	DailyLimit   int64
	Level        int
	ClaudeLimit  sql.NullInt64 // per-user Antigravity overrides
	Gemini3Limit sql.NullInt64
	CreatedAt    time.Time
}

// IsAdmin reports the quota/rate bypass.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// APIKey is an opaque bearer credential owned by a user.
type APIKey struct {
	ID        string
	Key       string
	UserID    string
	Type      string
	Active    bool
	CreatedAt time.Time
}

// GoogleCredential is a refreshable OAuth credential for the Cloud Code
// upstream. RefreshToken and GoogleEmail are unique across all rows.
type GoogleCredential struct {
	ID               string
	OwnerID          string
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	ProjectID        string
	AccessToken      string
	ExpiresAt        time.Time
	GoogleEmail      string
	SupportsV3       bool
	FailCount        int
	Status           string
	CoolingExpiresAt sql.NullTime
	CreatedAt        time.Time
}

// AntigravityToken is the second credential family.
type AntigravityToken struct {
	ID               string
	OwnerID          string
	RefreshToken     string
	ProjectID        string
	SessionID        string
	AccessToken      string
	ExpiresAt        time.Time
	Email            string
	FailCount        int
	Enabled          bool
	Active           bool
	Status           string
	CoolingExpiresAt sql.NullTime
	CreatedAt        time.Time
}

// UsageLog is one append-only record per completed upstream call.
type UsageLog struct {
	ID           int64
	UserID       string
	CredentialID sql.NullString
	StatusCode   int
	CreatedAt    time.Time
}
