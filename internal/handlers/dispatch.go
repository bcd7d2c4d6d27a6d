package handlers

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/models"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/timeutil"
	"omnirelay-go/internal/upstream"
)

// credentialRetries bounds how many distinct credentials one request may
// consume after 429/dead markings bump them out of the pool.
const credentialRetries = 2

// run executes one call against an already-authenticated upstream identity.
// It returns nil on success; the raw result is delivered through whatever
// the closure captured.
type run func(auth upstream.Auth) error

// classify converts a dispatch failure into the client-visible error.
func classify(err error) *apierr.APIError {
	se, ok := err.(*upstream.StatusError)
	if !ok {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return apierr.Upstream("upstream timed out")
		}
		return apierr.Upstream("upstream request failed")
	}
	switch {
	case se.Code == http.StatusBadRequest:
		return apierr.InvalidRequest("upstream rejected the request")
	case se.Code == http.StatusTooManyRequests:
		return apierr.RateLimited("upstream quota exhausted, retry later")
	case se.Code == http.StatusForbidden || se.Code == http.StatusUnauthorized:
		return apierr.Upstream("upstream denied the request")
	default:
		return apierr.Upstream("upstream request failed")
	}
}

func lockTTL(stream bool) time.Duration {
	if stream {
		return constants.LockTTLStream
	}
	return constants.LockTTLNonStream
}

// dispatchCloud drives the Cloud Code path: acquire from the right pool,
// execute, and translate failures into credential state transitions.
func (h *Handler) dispatchCloud(ctx context.Context, user *store.User, base string, stream bool, do run) *apierr.APIError {
	poolKey := constants.KeyPoolGeneral
	if models.IsV3(base) {
		poolKey = constants.KeyPoolV3
	}

	var lastErr *apierr.APIError
	for attempt := 0; attempt < credentialRetries; attempt++ {
		lease, err := h.pool.Acquire(ctx, poolKey, user.ID, lockTTL(stream))
		if err != nil {
			return apierr.Internal("credential pool unavailable")
		}
		if lease == nil {
			if lastErr != nil {
				return lastErr
			}
			return apierr.Upstream("no credential available for this model")
		}

		execErr := do(upstream.Auth{AccessToken: lease.AccessToken, ProjectID: lease.ProjectID})
		lease.Release(ctx)

		if execErr == nil {
			if err := h.db.ResetCredentialFailCount(ctx, lease.CredentialID); err != nil {
				log.WithError(err).WithField("credential", lease.CredentialID).Warn("fail count reset failed")
			}
			h.logUsage(ctx, user.ID, lease.CredentialID, http.StatusOK)
			return nil
		}

		se, isStatus := execErr.(*upstream.StatusError)
		if isStatus {
			h.logUsage(ctx, user.ID, lease.CredentialID, se.Code)
		}
		switch {
		case isStatus && se.Code == http.StatusTooManyRequests:
			if err := h.pool.MarkCooling(ctx, lease.CredentialID, se.ResetAt); err != nil {
				log.WithError(err).WithField("credential", lease.CredentialID).Error("mark cooling failed")
			}
			lastErr = classify(execErr)
			continue // one transparent retry on the next credential
		case isStatus && se.Code == http.StatusForbidden:
			h.strikeCredential(ctx, lease.CredentialID)
			return classify(execErr)
		default:
			return classify(execErr)
		}
	}
	return lastErr
}

// strikeCredential applies the 2-strike rule on permanent denials.
func (h *Handler) strikeCredential(ctx context.Context, id string) {
	n, err := h.db.BumpCredentialFailCount(ctx, id)
	if err != nil {
		log.WithError(err).WithField("credential", id).Error("fail count bump failed")
		return
	}
	if n >= 2 {
		if err := h.pool.MarkDead(ctx, id); err != nil {
			log.WithError(err).WithField("credential", id).Error("mark dead failed")
		}
	}
}

// dispatchAntigravity drives the second family: round-robin over the
// usable tokens, refresh when stale, execute, classify.
func (h *Handler) dispatchAntigravity(ctx context.Context, user *store.User, do run) *apierr.APIError {
	tokens, err := h.db.ListUsableAntigravityTokens(ctx)
	if err != nil {
		return apierr.Internal("antigravity tokens unavailable")
	}
	if len(tokens) == 0 {
		return apierr.Upstream("no antigravity credential available")
	}

	start := int(h.agCursor.Add(1)-1) % len(tokens)

	var lastErr *apierr.APIError
	for i := 0; i < len(tokens) && i < credentialRetries; i++ {
		tok := tokens[(start+i)%len(tokens)]

		auth, refreshErr := h.antigravityAuth(ctx, tok)
		if refreshErr != nil {
			if oauth.IsPermanent(refreshErr) {
				if err := h.db.SetAntigravityDead(ctx, tok.ID); err != nil {
					log.WithError(err).WithField("token", tok.ID).Error("antigravity mark dead failed")
				}
			}
			lastErr = apierr.Upstream("antigravity token refresh failed")
			continue
		}

		execErr := do(auth)
		if execErr == nil {
			if err := h.db.ResetAntigravityFailCount(ctx, tok.ID); err != nil {
				log.WithError(err).WithField("token", tok.ID).Warn("fail count reset failed")
			}
			h.logUsage(ctx, user.ID, tok.ID, http.StatusOK)
			return nil
		}

		se, isStatus := execErr.(*upstream.StatusError)
		if isStatus {
			h.logUsage(ctx, user.ID, tok.ID, se.Code)
		}
		switch {
		case isStatus && se.Code == http.StatusTooManyRequests:
			resetAt := timeutil.NextCoolingMidnight(time.Now())
			if se.ResetAt != nil {
				resetAt = *se.ResetAt
			}
			if err := h.db.SetAntigravityCooling(ctx, tok.ID, resetAt); err != nil {
				log.WithError(err).WithField("token", tok.ID).Error("antigravity cooling failed")
			}
			lastErr = classify(execErr)
			continue
		case isStatus && se.Code == http.StatusForbidden:
			n, err := h.db.BumpAntigravityFailCount(ctx, tok.ID)
			if err == nil && n >= 2 {
				if err := h.db.SetAntigravityDead(ctx, tok.ID); err != nil {
					log.WithError(err).WithField("token", tok.ID).Error("antigravity mark dead failed")
				}
			}
			return classify(execErr)
		default:
			return classify(execErr)
		}
	}
	return lastErr
}

// antigravityAuth returns a fresh Auth for the token, refreshing and
// persisting when the stored access token is inside the expiry skew.
func (h *Handler) antigravityAuth(ctx context.Context, tok *store.AntigravityToken) (upstream.Auth, error) {
	if tok.AccessToken != "" && time.Until(tok.ExpiresAt) >= constants.TokenExpirySkew {
		return upstream.Auth{AccessToken: tok.AccessToken, ProjectID: tok.ProjectID}, nil
	}

	refreshed, projectID, err := h.anti.RefreshToken(ctx, constants.AntigravityOAuthClientID, constants.AntigravityOAuthClientSecret, tok.RefreshToken)
	if err != nil {
		return upstream.Auth{}, err
	}
	if projectID == "" {
		projectID = tok.ProjectID
	}
	if err := h.db.UpdateAntigravityToken(ctx, tok.ID, refreshed.AccessToken, refreshed.ExpiresAt); err != nil {
		log.WithError(err).WithField("token", tok.ID).Error("antigravity token persist failed")
	}
	return upstream.Auth{AccessToken: refreshed.AccessToken, ProjectID: projectID}, nil
}

func (h *Handler) logUsage(ctx context.Context, userID, credentialID string, status int) {
	if err := h.db.AppendUsageLog(ctx, userID, credentialID, status); err != nil {
		log.WithError(err).Warn("usage log append failed")
	}
}
