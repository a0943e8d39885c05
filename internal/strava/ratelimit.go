package strava

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Requests kept in reserve below each limit.
const rateLimitBuffer = 5

// RateLimitInfo is the most restrictive view of Strava's general and read rate limits.
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool

	TimeUntil15MinReset time.Duration
	TimeUntilDailyReset time.Duration
	RecommendedWait     time.Duration
}

// ShouldWaitForRateLimit returns the recommended wait, zero when requests may proceed.
func (info RateLimitInfo) ShouldWaitForRateLimit() time.Duration {
	return info.RecommendedWait
}

// IsApproaching15MinLimit reports whether fewer than rateLimitBuffer requests remain in the window.
func (info RateLimitInfo) IsApproaching15MinLimit() bool {
	return info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min-rateLimitBuffer
}

// IsApproachingDailyLimit reports whether fewer than rateLimitBuffer requests remain today.
func (info RateLimitInfo) IsApproachingDailyLimit() bool {
	return info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily-rateLimitBuffer
}

// evaluate recomputes reset times and the recommended wait relative to now.
func (info *RateLimitInfo) evaluate(now time.Time) {
	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)
	info.RecommendedWait = 0

	switch {
	case info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	case info.IsApproaching15MinLimit():
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.IsApproachingDailyLimit():
		info.RecommendedWait = info.TimeUntilDailyReset
	}
}

// timeUntilNext15MinWindow returns the time until the next quarter hour, when Strava's
// short-term limit resets, plus a two second margin.
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now) + 2*time.Second
}

// timeUntilMidnightUTC returns the time until the daily limit resets, plus a two second margin.
func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + 2*time.Second
}

// parsePair parses a "15min,daily" header value. Missing or malformed parts are zero.
func parsePair(value string) (short, daily int) {
	if value == "" {
		return 0, 0
	}
	parts := strings.SplitN(value, ",", 2)
	short, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		daily, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return short, daily
}

// parseRateLimitHeaders merges the X-RateLimit-* and X-ReadRateLimit-* headers, keeping the
// lower limit and the higher usage of the two.
func parseRateLimitHeaders(headers http.Header, now time.Time) RateLimitInfo {
	generalLimit15, generalLimitDay := parsePair(headers.Get("X-RateLimit-Limit"))
	generalUsage15, generalUsageDay := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15, readLimitDay := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15, readUsageDay := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	info := RateLimitInfo{
		Limit15Min: minPositive(generalLimit15, readLimit15),
		LimitDaily: minPositive(generalLimitDay, readLimitDay),
		Usage15Min: max(generalUsage15, readUsage15),
		UsageDaily: max(generalUsageDay, readUsageDay),
	}
	info.evaluate(now)
	return info
}

// minPositive returns the smaller of a and b, ignoring values that are not positive.
func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
