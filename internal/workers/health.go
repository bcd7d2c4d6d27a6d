package workers

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/upstream"
)

func sleepJitter(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// RunGoogleHealthCheck probes every serving Google credential serially,
// refreshing stale tokens on the way. Denials use the same 2-strike rule
// as live traffic; transient failures are ignored.
func (s *Scheduler) RunGoogleHealthCheck(ctx context.Context) {
	creds, err := s.db.ListCredentialsForHealthCheck(ctx)
	if err != nil {
		log.WithError(err).Error("health check credential query failed")
		return
	}

	for i, cred := range creds {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			sleepJitter(ctx, s.googleJitterMin, s.googleJitterMax)
		}

		token := cred.AccessToken
		if token == "" || time.Until(cred.ExpiresAt) < constants.TokenExpirySkew {
			refreshed, err := s.oauth.Refresh(ctx, cred.ClientID, cred.ClientSecret, cred.RefreshToken)
			if err != nil {
				if oauth.IsPermanent(err) {
					s.strikeGoogle(ctx, cred.ID)
				}
				continue
			}
			token = refreshed.AccessToken
			if err := s.db.UpdateCredentialToken(ctx, cred.ID, refreshed.AccessToken, refreshed.ExpiresAt); err != nil {
				log.WithError(err).WithField("credential", cred.ID).Warn("token persist failed")
			}
		}

		code, err := s.oauth.ProbeUserInfo(ctx, token)
		switch {
		case err != nil:
			// Network trouble says nothing about the credential.
			continue
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			s.strikeGoogle(ctx, cred.ID)
		default:
			if err := s.db.ResetCredentialFailCount(ctx, cred.ID); err != nil {
				log.WithError(err).WithField("credential", cred.ID).Warn("fail count reset failed")
			}
		}
	}
}

func (s *Scheduler) strikeGoogle(ctx context.Context, id string) {
	n, err := s.db.BumpCredentialFailCount(ctx, id)
	if err != nil {
		log.WithError(err).WithField("credential", id).Error("fail count bump failed")
		return
	}
	if n >= 2 {
		if err := s.pool.MarkDead(ctx, id); err != nil {
			log.WithError(err).WithField("credential", id).Error("mark dead failed")
		}
		log.WithField("credential", id).Warn("credential marked dead by health check")
	}
}

// healthProbeBody is a minimal one-token exchange used to verify that a
// token can still serve traffic.
var healthProbeBody = []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"generationConfig":{"maxOutputTokens":1}}`)

// RunAntigravityHealthCheck sends a trivial generation through each
// Antigravity token. Only explicit denials count against a token; rate
// limits and server errors are expected noise at probe time.
func (s *Scheduler) RunAntigravityHealthCheck(ctx context.Context) {
	tokens, err := s.db.ListAntigravityForHealthCheck(ctx)
	if err != nil {
		log.WithError(err).Error("antigravity health check query failed")
		return
	}

	for i, tok := range tokens {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			sleepJitter(ctx, s.antiJitterMin, s.antiJitterMax)
		}

		auth, err := s.antigravityAuth(ctx, tok)
		if err != nil {
			if oauth.IsPermanent(err) {
				s.strikeAntigravity(ctx, tok.ID)
			}
			continue
		}

		_, err = s.anti.Generate(ctx, auth, "claude-sonnet-4-5", healthProbeBody)
		se, isStatus := err.(*upstream.StatusError)
		switch {
		case err == nil:
			if err := s.db.ResetAntigravityFailCount(ctx, tok.ID); err != nil {
				log.WithError(err).WithField("token", tok.ID).Warn("fail count reset failed")
			}
		case isStatus && (se.Code == http.StatusForbidden || se.Code == http.StatusUnauthorized):
			s.strikeAntigravity(ctx, tok.ID)
		default:
			// 429s and 5xx carry no verdict.
		}
	}
}

func (s *Scheduler) strikeAntigravity(ctx context.Context, id string) {
	n, err := s.db.BumpAntigravityFailCount(ctx, id)
	if err != nil {
		log.WithError(err).WithField("token", id).Error("fail count bump failed")
		return
	}
	if n >= 2 {
		if err := s.db.SetAntigravityDead(ctx, id); err != nil {
			log.WithError(err).WithField("token", id).Error("mark dead failed")
		}
		log.WithField("token", id).Warn("antigravity token marked dead by health check")
	}
}

func (s *Scheduler) antigravityAuth(ctx context.Context, tok *store.AntigravityToken) (upstream.Auth, error) {
	if tok.AccessToken != "" && time.Until(tok.ExpiresAt) >= constants.TokenExpirySkew {
		return upstream.Auth{AccessToken: tok.AccessToken, ProjectID: tok.ProjectID}, nil
	}
	refreshed, projectID, err := s.anti.RefreshToken(ctx, constants.AntigravityOAuthClientID, constants.AntigravityOAuthClientSecret, tok.RefreshToken)
	if err != nil {
		return upstream.Auth{}, err
	}
	if projectID == "" {
		projectID = tok.ProjectID
	}
	if err := s.db.UpdateAntigravityToken(ctx, tok.ID, refreshed.AccessToken, refreshed.ExpiresAt); err != nil {
		log.WithError(err).WithField("token", tok.ID).Warn("token persist failed")
	}
	return upstream.Auth{AccessToken: refreshed.AccessToken, ProjectID: projectID}, nil
}
