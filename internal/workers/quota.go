package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/upstream"
)

// Account classes derived from the upstream quota window.
const (
	ClassPro    = "PRO"
	ClassNormal = "NORMAL"
)

type quotaProgress struct {
	TokenID string `json:"token_id"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	OK      bool   `json:"ok"`
	Class   string `json:"class,omitempty"`
}

// RunQuotaRefresh refreshes the quota summary of every usable Antigravity
// token, publishes per-token progress for live observers, and re-derives
// the Pro/Normal account class when the reading is unambiguous.
func (s *Scheduler) RunQuotaRefresh(ctx context.Context) {
	tokens, err := s.db.ListUsableAntigravityTokens(ctx)
	if err != nil {
		log.WithError(err).Error("quota refresh token query failed")
		return
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	sem := make(chan struct{}, constants.QuotaRefreshParallel)

	for _, tok := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(tok *store.AntigravityToken) {
			defer wg.Done()
			defer func() { <-sem }()

			class, ok := s.refreshTokenQuota(ctx, tok)

			mu.Lock()
			done++
			p := quotaProgress{TokenID: tok.ID, Done: done, Total: len(tokens), OK: ok, Class: class}
			mu.Unlock()

			payload, err := json.Marshal(p)
			if err != nil {
				return
			}
			if err := s.coord.Publish(ctx, constants.ChannelQuotaProgress, string(payload)); err != nil {
				log.WithError(err).Debug("quota progress publish failed")
			}
		}(tok)
	}
	wg.Wait()
}

// refreshTokenQuota fetches one token's quota summary and returns the
// account class it settled on, if any.
func (s *Scheduler) refreshTokenQuota(ctx context.Context, tok *store.AntigravityToken) (string, bool) {
	auth, err := s.antigravityAuth(ctx, tok)
	if err != nil {
		if oauth.IsPermanent(err) {
			s.strikeAntigravity(ctx, tok.ID)
		}
		return "", false
	}

	quotas, err := s.anti.FetchQuotas(ctx, auth)
	if err != nil {
		log.WithError(err).WithField("token", tok.ID).Debug("quota fetch failed")
		return "", false
	}

	class := classifyWindow(quotas, time.Now())
	if class == "" {
		return "", true
	}
	key := constants.KeyPrefixProClass + tok.ID
	if err := s.coord.SetString(ctx, key, class, constants.ProClassTTL); err != nil {
		log.WithError(err).WithField("token", tok.ID).Warn("class persist failed")
	}
	return class, true
}

// classifyWindow maps the longest pending reset window onto an account
// class. Readings between the confident bands leave the stored class
// untouched.
func classifyWindow(quotas map[string]upstream.ModelQuota, now time.Time) string {
	longest := time.Duration(0)
	seen := false
	for _, q := range quotas {
		if q.ResetTime == nil {
			continue
		}
		seen = true
		if w := q.ResetTime.Sub(now); w > longest {
			longest = w
		}
	}
	if !seen {
		return ""
	}
	switch {
	case longest <= 4*time.Hour:
		return ClassPro
	case longest >= 24*time.Hour:
		return ClassNormal
	default:
		return ""
	}
}
