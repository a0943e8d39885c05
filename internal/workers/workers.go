// Package workers runs the background loops of the server: token refresh and periodic activity sync.
package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
)

// refreshWindow is how long before expiry the refresher rotates tokens.
const refreshWindow = 10 * time.Minute

// Refresher rotates stored tokens that are close to expiry.
type Refresher interface {
	RefreshIfExpiring(ctx context.Context, d time.Duration) (*auth.StoredTokens, bool, error)
}

// TokenRefresher keeps auth tokens up to date
type TokenRefresher struct {
	tokens   Refresher
	interval time.Duration
	metrics  *metrics.Manager
}

// NewTokenRefresher creates a new token refresher worker
func NewTokenRefresher(tokens Refresher, interval time.Duration, m *metrics.Manager) *TokenRefresher {
	if m == nil {
		m = metrics.NewUnregisteredManager()
	}
	return &TokenRefresher{
		tokens:   tokens,
		interval: interval,
		metrics:  m,
	}
}

// Run starts the token refresh worker and blocks until ctx is done.
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", t.interval).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.checkAndRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.checkAndRefresh(ctx)
		}
	}
}

func (t *TokenRefresher) checkAndRefresh(ctx context.Context) {
	log := logging.Logger
	log.Debug().Msg("checking token validity")

	tokens, refreshed, err := t.tokens.RefreshIfExpiring(ctx, refreshWindow)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		log.Debug().Msg("no tokens stored, skipping refresh")
		return
	case err != nil:
		t.metrics.CounterTokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		log.Error().Err(err).Msg("failed to refresh token")
		return
	}

	expiresIn := time.Until(time.Unix(tokens.ExpiresAt, 0)).Round(time.Second)
	if !refreshed {
		log.Debug().Dur("expires_in", expiresIn).Msg("token still valid")
		return
	}

	t.metrics.CounterTokenRefreshes.WithLabelValues(metrics.ResultOK).Inc()
	log.Info().
		Str("new_expires_at", time.Unix(tokens.ExpiresAt, 0).UTC().Format(time.RFC3339)).
		Dur("expires_in", expiresIn).
		Msg("token refreshed successfully")
}

// Syncer performs incremental activity syncs.
type Syncer interface {
	SyncDelta(ctx context.Context, fetch syncsvc.FetchProgressCallback, save syncsvc.SaveProgressCallback) (syncsvc.Result, error)
}

// Invalidator drops derived state after new activities arrive.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ActivitySyncer periodically syncs activities from Strava
type ActivitySyncer struct {
	syncer   Syncer
	reports  Invalidator
	interval time.Duration
	metrics  *metrics.Manager
}

// NewActivitySyncer creates a new activity sync worker. reports may be nil.
func NewActivitySyncer(syncer Syncer, reports Invalidator, interval time.Duration, m *metrics.Manager) *ActivitySyncer {
	if m == nil {
		m = metrics.NewUnregisteredManager()
	}
	return &ActivitySyncer{
		syncer:   syncer,
		reports:  reports,
		interval: interval,
		metrics:  m,
	}
}

// Run starts the activity sync worker and blocks until ctx is done.
func (a *ActivitySyncer) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", a.interval).Msg("activity syncer started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.syncActivities(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("activity syncer stopped")
			return
		case <-ticker.C:
			a.syncActivities(ctx)
		}
	}
}

func (a *ActivitySyncer) syncActivities(ctx context.Context) {
	_, err := a.SyncOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNotAuthenticated):
		logging.Logger.Warn().Err(err).Msg("activity sync skipped")
	case ctx.Err() != nil:
		logging.Logger.Info().Err(err).Msg("activity sync interrupted")
	default:
		logging.Logger.Error().Err(err).Msg("activity sync failed")
	}
}

// SyncOnce runs one delta sync, records metrics and invalidates cached summaries when anything was saved.
func (a *ActivitySyncer) SyncOnce(ctx context.Context) (syncsvc.Result, error) {
	log := logging.Logger
	log.Info().Msg("starting activity sync")

	progress := func(result strava.FetchResult) {
		rl := result.RateLimit
		event := log.Debug()
		if rl.IsRateLimited || rl.IsApproaching15MinLimit() {
			event = log.Info()
		}
		event.
			Int("page", result.Page).
			Int("activities_on_page", len(result.Activities)).
			Int("total_fetched", result.TotalFetched).
			Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
			Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
			Bool("rate_limited", rl.IsRateLimited).
			Msg("activity sync progress")
	}

	begin := time.Now()
	res, err := a.syncer.SyncDelta(ctx, progress, nil)
	a.metrics.HistSyncDuration.Observe(time.Since(begin).Seconds())
	a.metrics.ObserveRateLimit(res.RateLimit.Usage15Min, res.RateLimit.UsageDaily)
	a.metrics.CounterActivitiesSynced.Add(float64(res.Saved))

	if res.Saved > 0 && a.reports != nil {
		// partial syncs still change the window
		if ierr := a.reports.Invalidate(ctx); ierr != nil {
			log.Warn().Err(ierr).Msg("failed to invalidate cached summary")
		}
	}

	if err != nil {
		a.metrics.CounterSyncs.WithLabelValues(metrics.ResultError).Inc()
		return res, err
	}
	a.metrics.CounterSyncs.WithLabelValues(metrics.ResultOK).Inc()
	a.metrics.GaugeLastSyncUnix.SetToCurrentTime()

	rl := res.RateLimit
	event := log.Info().
		Int("fetched", res.Fetched).
		Int("saved", res.Saved).
		Bool("full", res.Full).
		Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily))
	if !res.Since.IsZero() {
		event = event.Str("since", res.Since.Format(time.RFC3339))
	}
	if res.Fetched == 0 {
		event.Msg("no new activities to sync")
	} else {
		event.Msg("activity sync completed")
	}
	return res, nil
}

// LogDatabaseStats logs current database statistics
func LogDatabaseStats(ctx context.Context, queries *db.Queries, now time.Time) {
	log := logging.Logger

	count, err := queries.CountActivities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count activities")
		return
	}

	if count == 0 {
		log.Info().Int64("total_activities", 0).Msg("database statistics")
		return
	}

	newestRaw, _ := queries.GetLatestActivityDate(ctx)
	oldestRaw, _ := queries.GetOldestActivityDate(ctx)
	inWindow, _ := queries.CountActivitiesSince(ctx, wrapped.WindowStart(now))

	log.Info().
		Int64("total_activities", count).
		Int64("last_year", inWindow).
		Str("newest_activity", formatDate(newestRaw)).
		Str("oldest_activity", formatDate(oldestRaw)).
		Msg("database statistics")
}

func formatDate(raw interface{}) string {
	if raw == nil {
		return "unknown"
	}
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case sql.NullTime:
		if v.Valid {
			return v.Time.UTC().Format(time.RFC3339)
		}
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	}
	return "unknown"
}
