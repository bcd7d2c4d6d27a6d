// Package governor enforces per-user quota and rate limits. Tiers derive
// from how many credentials a user has contributed; administrators bypass
// every check. Counters live in the coordination store so all instances
// share one budget.
package governor

import (
	"context"
	"fmt"
	"strings"

	"omnirelay-go/internal/apierr"
	"omnirelay-go/internal/config"
	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/store"
)

// Tier is a quota/rate class.
type Tier struct {
	Name       string
	DailyQuota int64
	RPM        int64
}

var (
	tierNewbie        = Tier{Name: "newbie", DailyQuota: 300, RPM: 10}
	tierContributor   = Tier{Name: "contributor", DailyQuota: 1500, RPM: 60}
	tierV3Contributor = Tier{Name: "v3_contributor", DailyQuota: 3000, RPM: 120}
)

// TierFor derives the tier from the user's contributed credential counts
// (ACTIVE plus COOLING rows both count).
func TierFor(total, v3 int) Tier {
	switch {
	case v3 >= 1:
		return tierV3Contributor
	case total >= 1:
		return tierContributor
	default:
		return tierNewbie
	}
}

// UserStore is the slice of the persistent store the governor needs.
type UserStore interface {
	CountOwnerCredentials(ctx context.Context, userID string) (total, v3 int, err error)
	IncrementTodayUsed(ctx context.Context, userID string, delta int64) error
}

// Governor owns admission control and usage accounting.
type Governor struct {
	db    UserStore
	coord *coordstore.Client
	cfg   *config.Config
}

// New builds a Governor.
func New(db UserStore, coord *coordstore.Client, cfg *config.Config) *Governor {
	return &Governor{db: db, coord: coord, cfg: cfg}
}

// DailyQuota computes the user's effective daily budget: the tier base
// plus a per-credential bonus beyond the first. The count includes COOLING
// rows, the same count tier derivation uses, so a credential cooling off
// mid-day does not shrink an already-granted budget.
func (g *Governor) DailyQuota(tier Tier, credCount int) int64 {
	bonusCreds := int64(credCount) - 1
	if bonusCreds < 0 {
		bonusCreds = 0
	}
	return tier.DailyQuota + bonusCreds*g.cfg.Quota.IncrementPerCredential
}

// Admit runs the rate and quota checks for one request. A nil return means
// the request may proceed.
func (g *Governor) Admit(ctx context.Context, user *store.User) *apierr.APIError {
	if user.IsAdmin() {
		return nil
	}

	total, v3, err := g.db.CountOwnerCredentials(ctx, user.ID)
	if err != nil {
		return apierr.Internal("credential count unavailable")
	}
	tier := TierFor(total, v3)

	n, err := g.coord.IncrWithWindow(ctx, constants.KeyPrefixRateLimit+user.ID, constants.RateLimitWindow)
	if err != nil {
		return apierr.Internal("rate limiter unavailable")
	}
	if n > tier.RPM {
		return apierr.RateLimited(fmt.Sprintf("rate limit exceeded: %d requests per minute for tier %s", tier.RPM, tier.Name))
	}

	quota := g.DailyQuota(tier, total)
	if user.TodayUsed >= quota {
		return apierr.QuotaExceeded(fmt.Sprintf("daily quota of %d requests exhausted", quota))
	}
	return nil
}

// Family buckets a model for the Antigravity-style limits.
func Family(model string) string {
	base := strings.ToLower(model)
	switch {
	case strings.HasPrefix(base, "claude"):
		return "claude"
	case strings.HasPrefix(base, "gemini-3"):
		return "gemini3"
	default:
		return ""
	}
}

// AdmitFamily enforces the per-family limit (claude_limit / gemini3_limit
// or their token-quota variants) for models that carry one. Models outside
// both families admit unconditionally here.
func (g *Governor) AdmitFamily(ctx context.Context, user *store.User, model, day string) *apierr.APIError {
	if user.IsAdmin() {
		return nil
	}
	family := Family(model)
	if family == "" {
		return nil
	}

	feats := g.cfg.Feature()
	counterKind := "requests"
	if feats.UseTokenQuota {
		counterKind = "tokens"
	}

	var limit int64
	switch family {
	case "claude":
		limit = feats.ClaudeLimit
		if feats.UseTokenQuota {
			limit = feats.ClaudeTokenQuota
		}
		if user.ClaudeLimit.Valid {
			limit = user.ClaudeLimit.Int64
		}
	case "gemini3":
		limit = feats.Gemini3Limit
		if feats.UseTokenQuota {
			limit = feats.Gemini3TokenQuota
		}
		if user.Gemini3Limit.Valid {
			limit = user.Gemini3Limit.Int64
		}
	}
	if limit <= 0 {
		return nil
	}

	used, err := g.coord.GetInt64(ctx, usageKey(counterKind, day, user.ID, family))
	if err != nil {
		return apierr.Internal("usage counter unavailable")
	}
	if used >= limit {
		return apierr.QuotaExceeded(fmt.Sprintf("%s %s limit of %d exhausted", family, counterKind, limit))
	}
	return nil
}
