// Package timeutil carries the timezone conventions used by the proxy:
// daily usage counters roll over at midnight UTC+8, while rate-limited
// credentials default back into rotation at the next UTC+7 midnight.
package timeutil

import "time"

var (
	// StatsZone is the business-day zone for all dated counters.
	StatsZone = time.FixedZone("UTC+8", 8*3600)
	// CoolingZone is the default reset zone for rate-limited credentials.
	CoolingZone = time.FixedZone("UTC+7", 7*3600)
)

// DayKey formats t as YYYY-MM-DD in the stats zone.
func DayKey(t time.Time) string {
	return t.In(StatsZone).Format("2006-01-02")
}

// NextStatsMidnight returns the next midnight in the stats zone after t.
func NextStatsMidnight(t time.Time) time.Time {
	local := t.In(StatsZone)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, StatsZone).AddDate(0, 0, 1)
	return next
}

// NextCoolingMidnight returns the next UTC+7 midnight after t. Used as the
// default cooling_expires_at when the upstream gives no reset hint.
func NextCoolingMidnight(t time.Time) time.Time {
	local := t.In(CoolingZone)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, CoolingZone).AddDate(0, 0, 1)
	return next
}

// NextClockIn returns the next occurrence of hh:mm in loc after t.
func NextClockIn(t time.Time, hour, minute int, loc *time.Location) time.Time {
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
