package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*Queries, *sql.DB) {
	t.Helper()

	sqlDB, err := OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return New(sqlDB), sqlDB
}

func activityAt(id int64, sport string, start time.Time) CreateActivityParams {
	return CreateActivityParams{
		ID:         id,
		Name:       "Activity",
		Distance:   sql.NullFloat64{Float64: 1000, Valid: true},
		MovingTime: sql.NullInt64{Int64: 600, Valid: true},
		SportType:  sql.NullString{String: sport, Valid: sport != ""},
		StartDate:  sql.NullTime{Time: start.UTC(), Valid: true},
		KudosCount: id,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	_, sqlDB := setupTestDB(t)

	applied, err := Migrate(context.Background(), sqlDB)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestCreateActivity_Upsert(t *testing.T) {
	t.Parallel()
	q, _ := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2025, 5, 1, 7, 30, 0, 0, time.UTC)
	params := activityAt(42, "Run", start)
	require.NoError(t, q.CreateActivity(ctx, params))

	params.Name = "Renamed"
	params.KudosCount = 12
	params.WeightedAverageWatts = sql.NullFloat64{Float64: 180, Valid: true}
	require.NoError(t, q.CreateActivity(ctx, params))

	count, err := q.CountActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := q.GetActivity(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, int64(12), got.KudosCount)
	assert.Equal(t, 180.0, got.WeightedAverageWatts.Float64)
	assert.Equal(t, int64(1), got.AthleteCount)
	require.True(t, got.StartDate.Valid)
	assert.True(t, start.Equal(got.StartDate.Time))

	_, err = q.GetActivity(ctx, 7)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestGetActivitiesSince(t *testing.T) {
	t.Parallel()
	q, _ := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 24 * time.Hour, 48 * time.Hour, 72*time.Hour + 500*time.Millisecond} {
		require.NoError(t, q.CreateActivity(ctx, activityAt(int64(i+1), "Ride", base.Add(offset))))
	}

	got, err := q.GetActivitiesSince(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	ids := make([]int64, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []int64{4, 3}, ids)

	n, err := q.CountActivitiesSince(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	recent, err := q.GetRecentActivities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(4), recent[0].ID)
}

func TestActivityDates(t *testing.T) {
	t.Parallel()
	q, _ := setupTestDB(t)
	ctx := context.Background()

	latest, err := q.GetLatestActivityDate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, q.CreateActivity(ctx, activityAt(1, "Run", time.Now().AddDate(0, -2, 0))))
	require.NoError(t, q.CreateActivity(ctx, activityAt(2, "Run", time.Now().AddDate(0, -1, 0))))

	latest, err = q.GetLatestActivityDate(ctx)
	require.NoError(t, err)
	assert.NotNil(t, latest)

	oldest, err := q.GetOldestActivityDate(ctx)
	require.NoError(t, err)
	assert.NotNil(t, oldest)
}

func TestAuthConfig(t *testing.T) {
	t.Parallel()
	q, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := q.GetAuthConfig(ctx)
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, q.SaveAuthConfig(ctx, SaveAuthConfigParams{ClientID: "id", ClientSecret: "secret"}))

	cfg, err := q.GetAuthConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
	assert.False(t, cfg.AccessToken.Valid)

	require.NoError(t, q.UpdateTokens(ctx, UpdateTokensParams{
		AccessToken:  sql.NullString{String: "access", Valid: true},
		RefreshToken: sql.NullString{String: "refresh", Valid: true},
		ExpiresAt:    sql.NullInt64{Int64: 1700000000, Valid: true},
	}))

	cfg, err = q.GetAuthConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", cfg.AccessToken.String)
	assert.Equal(t, int64(1700000000), cfg.ExpiresAt.Int64)

	require.NoError(t, q.DeleteAuthConfig(ctx))
	_, err = q.GetAuthConfig(ctx)
	require.ErrorIs(t, err, sql.ErrNoRows)
}
