// Package constants centralizes timeouts, TTLs and retry tuning shared
// across the proxy. Values mirror the upstream contract: lock TTLs equal the
// chosen upstream timeout so a dead handler can never wedge a credential.
package constants

import "time"

// Upstream request timeouts.
const (
	NonStreamTimeout = 30 * time.Second
	StreamTimeout    = 60 * time.Second

	DialTimeout         = 10 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	ExpectContinueWait  = 1 * time.Second
	IdleConnTimeout     = 90 * time.Second
	MaxIdleConns        = 100
	MaxIdleConnsPerHost = 10
	OAuthRefreshTimeout = 30 * time.Second
	HealthProbeTimeout  = 15 * time.Second
	ShutdownGracePeriod = 10 * time.Second
	StoreConnectTimeout = 5 * time.Second
)

// Credential lock TTLs (coordination store, spec'd per request shape).
const (
	LockTTLNonStream = 30 * time.Second
	LockTTLStream    = 60 * time.Second
)

// Access-token cache.
const (
	AccessTokenCacheTTL = 55 * time.Minute
	// TokenExpirySkew: a token is treated as expired strictly when
	// expires_at - now < TokenExpirySkew.
	TokenExpirySkew = 5 * time.Minute
)

// Rate limiting.
const (
	RateLimitWindow = 60 * time.Second
)

// Retry schedule for transient upstream failures (5xx/network/timeout).
var RetryBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

// MaxTransientAttempts bounds in-place retries on the same credential.
const MaxTransientAttempts = 3

// Worker cadence.
const (
	CoolingRestoreInterval = 10 * time.Minute
	QuotaRefreshInterval   = 30 * time.Minute
	QuotaRefreshParallel   = 30
	ProClassTTL            = 7 * 24 * time.Hour
)

// Health-check jitter bounds.
const (
	GoogleProbeJitterMin      = 500 * time.Millisecond
	GoogleProbeJitterMax      = 1000 * time.Millisecond
	AntigravityProbeJitterMin = 200 * time.Millisecond
	AntigravityProbeJitterMax = 1000 * time.Millisecond
)
