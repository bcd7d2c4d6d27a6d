package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/store"
)

// tokenCacheKey derives the shared access-token cache key. The hash keeps
// refresh tokens out of the key namespace.
func tokenCacheKey(clientID, refreshToken string) string {
	sum := sha256.Sum256([]byte(clientID + "|" + refreshToken))
	return constants.KeyPrefixAccessToken + hex.EncodeToString(sum[:])[:12]
}

// freshToken returns a usable access token for the credential, refreshing
// through the OAuth endpoint when the stored one is within the expiry skew.
func (e *Engine) freshToken(ctx context.Context, cred *store.GoogleCredential) (string, error) {
	if cred.AccessToken != "" && time.Until(cred.ExpiresAt) >= constants.TokenExpirySkew {
		return cred.AccessToken, nil
	}

	cacheKey := tokenCacheKey(cred.ClientID, cred.RefreshToken)
	if tok, err := e.coord.GetString(ctx, cacheKey); err == nil && tok != "" {
		return tok, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, constants.OAuthRefreshTimeout)
	defer cancel()
	refreshed, err := e.oauth.Refresh(refreshCtx, cred.ClientID, cred.ClientSecret, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := e.db.UpdateCredentialToken(ctx, cred.ID, refreshed.AccessToken, refreshed.ExpiresAt); err != nil {
		log.WithError(err).WithField("credential", cred.ID).Error("token persist failed")
	}
	if err := e.coord.SetString(ctx, cacheKey, refreshed.AccessToken, constants.AccessTokenCacheTTL); err != nil {
		log.WithError(err).WithField("credential", cred.ID).Warn("token cache write failed")
	}
	return refreshed.AccessToken, nil
}
