// Package sync copies activities from the Strava API into the local store and
// converts stored rows into records for the wrapped engine.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"golang.org/x/sync/singleflight"
)

// FetchProgressCallback is called after each page is fetched
type FetchProgressCallback func(result strava.FetchResult)

// SaveProgressCallback is called after each activity is saved
type SaveProgressCallback func(current, total int, activityName string)

// Result describes one completed sync.
type Result struct {
	Fetched   int
	Saved     int
	Full      bool
	Since     time.Time
	RateLimit strava.RateLimitInfo
}

const (
	// sharedRunTimeout bounds a delta sync that no caller is waiting for anymore.
	sharedRunTimeout = 10 * time.Minute
	// DefaultWindowResync is how often a delta sync refetches the whole trailing year so kudos,
	// comments and photos on stored activities catch up.
	DefaultWindowResync = 24 * time.Hour
)

// Service handles syncing activities from Strava to the database
type Service struct {
	queries      *db.Queries
	tokens       auth.TokenProvider
	apiURL       string
	retryConfig  strava.RetryConfig
	windowResync time.Duration
	now          func() time.Time

	// concurrent SyncDelta callers share one run
	group singleflight.Group

	mu             gosync.Mutex
	lastWindowSync time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryConfig sets the retry behaviour of the Strava clients the service creates.
func WithRetryConfig(cfg strava.RetryConfig) Option {
	return func(s *Service) { s.retryConfig = cfg }
}

// WithAPIURL points the service at a different Strava API base URL.
func WithAPIURL(apiURL string) Option {
	return func(s *Service) { s.apiURL = apiURL }
}

// WithWindowResync sets how often a delta sync refetches the trailing year. Zero disables it.
func WithWindowResync(d time.Duration) Option {
	return func(s *Service) { s.windowResync = d }
}

// WithClock replaces the wall clock used to schedule window resyncs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new sync service
func NewService(queries *db.Queries, tokens auth.TokenProvider, opts ...Option) *Service {
	s := &Service{
		queries:      queries,
		tokens:       tokens,
		retryConfig:  strava.DefaultRetryConfig(),
		windowResync: DefaultWindowResync,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns a Strava client holding a currently valid access token.
func (s *Service) Client(ctx context.Context) (*strava.Client, error) {
	token, err := s.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting access token: %w", err)
	}
	return strava.NewClientWithOptions(token, s.apiURL, s.retryConfig), nil
}

// Sync fetches all activities from Strava and saves them to the database
func (s *Service) Sync(ctx context.Context, fetchProgress FetchProgressCallback, saveProgress SaveProgressCallback) (Result, error) {
	client, err := s.Client(ctx)
	if err != nil {
		return Result{}, err
	}

	logging.Info("fetching all activities from Strava")
	activities, err := client.FetchAllActivities(ctx, strava.ProgressCallback(fetchProgress))
	if err != nil {
		return Result{}, fmt.Errorf("fetching activities: %w", err)
	}

	res := Result{Fetched: len(activities), Full: true}
	res.Saved, err = s.save(ctx, activities, saveProgress)
	res.RateLimit = client.GetRateLimit()
	if err == nil {
		s.markWindowSynced(s.now())
	}
	return res, err
}

// SyncDelta fetches activities started after the newest stored one, or everything
// when the store is empty. Once per window resync interval it refetches the whole trailing
// year instead.
//
// Concurrent calls share a single run that uses the first caller's progress callbacks. The run
// is detached from the callers' contexts: a caller that gives up gets its context error while
// the run carries on for the others, bounded by sharedRunTimeout.
func (s *Service) SyncDelta(ctx context.Context, fetchProgress FetchProgressCallback, saveProgress SaveProgressCallback) (Result, error) {
	ch := s.group.DoChan("delta", func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRunTimeout)
		defer cancel()
		return s.syncDelta(runCtx, fetchProgress, saveProgress)
	})

	select {
	case r := <-ch:
		if r.Shared {
			logging.Debug("joined in-flight sync")
		}
		return r.Val.(Result), r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Service) syncDelta(ctx context.Context, fetchProgress FetchProgressCallback, saveProgress SaveProgressCallback) (Result, error) {
	since, err := s.LatestActivityDate(ctx)
	if err != nil {
		logging.Warn("failed to get latest activity date, doing full sync", "error", err)
	}
	if since.IsZero() {
		return s.Sync(ctx, fetchProgress, saveProgress)
	}

	now := s.now()
	window := s.windowDue(now)
	if window {
		if start := wrapped.WindowStart(now); start.Before(since) {
			since = start
		}
	}

	client, err := s.Client(ctx)
	if err != nil {
		return Result{}, err
	}

	// Wait for rate limits before starting (in case we're approaching limits from a previous sync)
	if err := client.WaitForRateLimit(ctx); err != nil {
		return Result{}, err
	}

	logging.Info("performing delta sync", "since", since.Format(time.RFC3339), "window_resync", window)
	activities, err := client.FetchActivitiesSince(ctx, since, strava.ProgressCallback(fetchProgress))
	if err != nil {
		return Result{}, fmt.Errorf("fetching activities: %w", err)
	}

	res := Result{Fetched: len(activities), Since: since}
	res.Saved, err = s.save(ctx, activities, saveProgress)
	res.RateLimit = client.GetRateLimit()
	if err == nil && window {
		s.markWindowSynced(now)
	}
	return res, err
}

// windowDue reports whether the trailing year should be refetched at now.
func (s *Service) windowDue(now time.Time) bool {
	if s.windowResync <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastWindowSync) >= s.windowResync
}

func (s *Service) markWindowSynced(now time.Time) {
	s.mu.Lock()
	s.lastWindowSync = now
	s.mu.Unlock()
}

func (s *Service) save(ctx context.Context, activities []strava.Activity, saveProgress SaveProgressCallback) (int, error) {
	for i, activity := range activities {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		if activity.StartDate.IsZero() {
			logging.Logger.Warn().Int64("activity_id", activity.ID).Msg("activity has no usable start date, it will not count towards summaries")
		}
		params := ConvertActivityToParams(activity)
		if err := s.queries.CreateActivity(ctx, params); err != nil {
			return i, fmt.Errorf("saving activity %d (%s): %w", activity.ID, activity.Name, err)
		}

		logging.Logger.Debug().
			Int64("activity_id", activity.ID).
			Str("activity_name", activity.Name).
			Str("sport_type", activity.SportType).
			Msg("saved activity")

		if saveProgress != nil {
			saveProgress(i+1, len(activities), activity.Name)
		}
	}
	return len(activities), nil
}

// LatestActivityDate returns the start date of the newest stored activity, or the zero time.
func (s *Service) LatestActivityDate(ctx context.Context) (time.Time, error) {
	activities, err := s.queries.GetRecentActivities(ctx, 1)
	if err != nil {
		return time.Time{}, err
	}

	if len(activities) == 0 || !activities[0].StartDate.Valid {
		return time.Time{}, nil
	}

	return activities[0].StartDate.Time.UTC(), nil
}

// LoadRecords returns stored activities started after since, newest first.
func (s *Service) LoadRecords(ctx context.Context, since time.Time) ([]wrapped.ActivityRecord, error) {
	activities, err := s.queries.GetActivitiesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("loading activities: %w", err)
	}

	records := make([]wrapped.ActivityRecord, 0, len(activities))
	for _, a := range activities {
		records = append(records, ToRecord(a))
	}
	return records, nil
}

// ConvertActivityToParams converts a Strava activity to database params
func ConvertActivityToParams(a strava.Activity) db.CreateActivityParams {
	params := db.CreateActivityParams{
		ID:                 a.ID,
		Name:               a.Name,
		Distance:           toNullFloat64(a.Distance),
		MovingTime:         toNullInt64(int64(a.MovingTime)),
		ElapsedTime:        toNullInt64(int64(a.ElapsedTime)),
		TotalElevationGain: toNullFloat64(a.TotalElevationGain),
		Type:               toNullString(a.Type),
		SportType:          toNullString(a.SportType),
		StartDate:          toNullTime(a.StartDate),
		StartDateLocal:     toNullTime(a.StartDateLocal),
		Timezone:           toNullString(a.Timezone),
		AverageSpeed:       toNullFloat64(a.AverageSpeed),
		Kilojoules:         toNullFloat64(a.Kilojoules),
		KudosCount:         int64(a.KudosCount),
		CommentCount:       int64(a.CommentCount),
		TotalPhotoCount:    int64(a.TotalPhotoCount),
		AthleteCount:       int64(a.AthleteCount),
		PrCount:            int64(a.PRCount),
	}
	// zero watts is a real reading, absence is not
	if a.WeightedAverageWatts != nil {
		params.WeightedAverageWatts = sql.NullFloat64{Float64: *a.WeightedAverageWatts, Valid: true}
	}
	return params
}

// ToRecord converts a stored activity into an engine record.
func ToRecord(a db.Activity) wrapped.ActivityRecord {
	r := wrapped.ActivityRecord{
		ID:                 a.ID,
		SportType:          a.SportType.String,
		Distance:           a.Distance.Float64,
		MovingTime:         a.MovingTime.Int64,
		TotalElevationGain: a.TotalElevationGain.Float64,
		KudosCount:         a.KudosCount,
		CommentCount:       a.CommentCount,
		TotalPhotoCount:    a.TotalPhotoCount,
		AthleteCount:       a.AthleteCount,
		PRCount:            a.PrCount,
	}
	if a.Name != "" {
		name := a.Name
		r.Name = &name
	}
	if a.StartDate.Valid {
		start := a.StartDate.Time.UTC()
		r.StartDate = &start
	}
	if a.WeightedAverageWatts.Valid {
		watts := a.WeightedAverageWatts.Float64
		r.WeightedAverageWatts = &watts
	}
	return r
}

func toNullFloat64(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}

func toNullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func toNullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func toNullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v.UTC(), Valid: !v.IsZero()}
}
