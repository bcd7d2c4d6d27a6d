// Package handlers contains the serving pipeline: dialect detection,
// access gates, quota admission, credential acquisition, upstream dispatch
// and response rendering.
package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/governor"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/pool"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/upstream"
)

// Generator is the upstream execution surface shared by both families.
type Generator interface {
	Generate(ctx context.Context, auth upstream.Auth, model string, geminiReq []byte) ([]byte, error)
	Stream(ctx context.Context, auth upstream.Auth, model string, geminiReq []byte, fn func(chunk []byte) error) error
}

// AntigravityClient adds the token refresh of the second family.
type AntigravityClient interface {
	Generator
	RefreshToken(ctx context.Context, clientID, clientSecret, composite string) (*oauth.RefreshedToken, string, error)
}

// Store is the slice of the persistent store the handlers need.
// *store.Store satisfies it.
type Store interface {
	CountOwnerCredentials(ctx context.Context, userID string) (total, v3 int, err error)
	BumpCredentialFailCount(ctx context.Context, id string) (int, error)
	ResetCredentialFailCount(ctx context.Context, id string) error
	AppendUsageLog(ctx context.Context, userID, credentialID string, statusCode int) error

	ListUsableAntigravityTokens(ctx context.Context) ([]*store.AntigravityToken, error)
	UpdateAntigravityToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
	SetAntigravityCooling(ctx context.Context, id string, resetAt time.Time) error
	SetAntigravityDead(ctx context.Context, id string) error
	BumpAntigravityFailCount(ctx context.Context, id string) (int, error)
	ResetAntigravityFailCount(ctx context.Context, id string) error
}

// Handler wires the pipeline dependencies.
type Handler struct {
	cfg   *config.Config
	db    Store
	gov   *governor.Governor
	pool  *pool.Engine
	cloud Generator
	anti  AntigravityClient

	// agCursor rotates the antigravity token walk so traffic fans out
	// across tokens instead of pinning the oldest row.
	agCursor atomic.Uint64
}

// New builds a Handler.
func New(cfg *config.Config, db Store, gov *governor.Governor, pe *pool.Engine, cloud Generator, anti AntigravityClient) *Handler {
	return &Handler{cfg: cfg, db: db, gov: gov, pool: pe, cloud: cloud, anti: anti}
}
