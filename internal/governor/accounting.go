package governor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/timeutil"
)

// usageKey builds the per-family usage counter key.
// Shape: USAGE:<kind>:<day>:<user>:antigravity:<family>
func usageKey(kind, day, userID, family string) string {
	return constants.KeyPrefixUsage + kind + ":" + day + ":" + userID + ":antigravity:" + family
}

// legacyUsageKey is the pre-family form kept for dashboards that still
// read it. Written alongside the new key, never read for enforcement.
func legacyUsageKey(kind, day, userID string) string {
	return constants.KeyPrefixUsage + kind + ":" + day + ":" + userID + ":antigravity"
}

// RecordSuccess books one successful call: today_used, the per-user model
// stats bucket and the global counter. Family-tracked models additionally
// advance their request and token counters.
func (g *Governor) RecordSuccess(ctx context.Context, userID, model string, completionTokens int64) {
	day := timeutil.DayKey(time.Now())

	if err := g.db.IncrementTodayUsed(ctx, userID, 1); err != nil {
		log.WithError(err).WithField("user", userID).Error("today_used increment failed")
	}
	if err := g.coord.HIncrBy(ctx, constants.KeyPrefixUserStats+userID+":"+day, model, 1); err != nil {
		log.WithError(err).Warn("user stats increment failed")
	}
	if err := g.coord.HIncrBy(ctx, constants.KeyPrefixGlobalStats+day, model, 1); err != nil {
		log.WithError(err).Warn("global stats increment failed")
	}

	family := Family(model)
	if family == "" {
		return
	}
	for _, k := range []string{
		usageKey("requests", day, userID, family),
		legacyUsageKey("requests", day, userID),
	} {
		if _, err := g.coord.IncrBy(ctx, k, 1); err != nil {
			log.WithError(err).Warn("usage requests increment failed")
		}
	}
	if completionTokens > 0 {
		for _, k := range []string{
			usageKey("tokens", day, userID, family),
			legacyUsageKey("tokens", day, userID),
		} {
			if _, err := g.coord.IncrBy(ctx, k, completionTokens); err != nil {
				log.WithError(err).Warn("usage tokens increment failed")
			}
		}
	}
}

// UserStats returns the per-model counters for one user and day.
func (g *Governor) UserStats(ctx context.Context, userID, day string) (map[string]string, error) {
	return g.coord.HGetAll(ctx, constants.KeyPrefixUserStats+userID+":"+day)
}

// GlobalStats returns the day's system-wide per-model counters.
func (g *Governor) GlobalStats(ctx context.Context, day string) (map[string]string, error) {
	return g.coord.HGetAll(ctx, constants.KeyPrefixGlobalStats+day)
}
