package db

import (
	"context"
	"database/sql"
	"time"
)

const activityColumns = `id, name, distance, moving_time, elapsed_time, total_elevation_gain, type, sport_type,
	start_date, start_date_local, timezone, average_speed, weighted_average_watts, kilojoules,
	kudos_count, comment_count, total_photo_count, athlete_count, pr_count, created_at, updated_at`

func scanActivity(row interface{ Scan(...interface{}) error }, i *Activity) error {
	return row.Scan(
		&i.ID,
		&i.Name,
		&i.Distance,
		&i.MovingTime,
		&i.ElapsedTime,
		&i.TotalElevationGain,
		&i.Type,
		&i.SportType,
		&i.StartDate,
		&i.StartDateLocal,
		&i.Timezone,
		&i.AverageSpeed,
		&i.WeightedAverageWatts,
		&i.Kilojoules,
		&i.KudosCount,
		&i.CommentCount,
		&i.TotalPhotoCount,
		&i.AthleteCount,
		&i.PrCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

func (q *Queries) listActivities(ctx context.Context, query string, args ...interface{}) ([]Activity, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Activity
	for rows.Next() {
		var i Activity
		if err := scanActivity(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countActivities = `-- name: CountActivities :one
SELECT COUNT(*) FROM activities
`

func (q *Queries) CountActivities(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countActivities)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countActivitiesSince = `-- name: CountActivitiesSince :one
SELECT COUNT(*) FROM activities WHERE start_date > ?
`

func (q *Queries) CountActivitiesSince(ctx context.Context, startDate time.Time) (int64, error) {
	row := q.db.QueryRowContext(ctx, countActivitiesSince, startDate.UTC())
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createActivity = `-- name: CreateActivity :exec
INSERT INTO activities (
    id, name, distance, moving_time, elapsed_time, total_elevation_gain, type, sport_type,
    start_date, start_date_local, timezone, average_speed, weighted_average_watts, kilojoules,
    kudos_count, comment_count, total_photo_count, athlete_count, pr_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    distance = excluded.distance,
    moving_time = excluded.moving_time,
    elapsed_time = excluded.elapsed_time,
    total_elevation_gain = excluded.total_elevation_gain,
    type = excluded.type,
    sport_type = excluded.sport_type,
    start_date = excluded.start_date,
    start_date_local = excluded.start_date_local,
    timezone = excluded.timezone,
    average_speed = excluded.average_speed,
    weighted_average_watts = excluded.weighted_average_watts,
    kilojoules = excluded.kilojoules,
    kudos_count = excluded.kudos_count,
    comment_count = excluded.comment_count,
    total_photo_count = excluded.total_photo_count,
    athlete_count = excluded.athlete_count,
    pr_count = excluded.pr_count,
    updated_at = CURRENT_TIMESTAMP
`

type CreateActivityParams struct {
	ID                   int64
	Name                 string
	Distance             sql.NullFloat64
	MovingTime           sql.NullInt64
	ElapsedTime          sql.NullInt64
	TotalElevationGain   sql.NullFloat64
	Type                 sql.NullString
	SportType            sql.NullString
	StartDate            sql.NullTime
	StartDateLocal       sql.NullTime
	Timezone             sql.NullString
	AverageSpeed         sql.NullFloat64
	WeightedAverageWatts sql.NullFloat64
	Kilojoules           sql.NullFloat64
	KudosCount           int64
	CommentCount         int64
	TotalPhotoCount      int64
	AthleteCount         int64
	PrCount              int64
}

func (q *Queries) CreateActivity(ctx context.Context, arg CreateActivityParams) error {
	_, err := q.db.ExecContext(ctx, createActivity,
		arg.ID,
		arg.Name,
		arg.Distance,
		arg.MovingTime,
		arg.ElapsedTime,
		arg.TotalElevationGain,
		arg.Type,
		arg.SportType,
		arg.StartDate,
		arg.StartDateLocal,
		arg.Timezone,
		arg.AverageSpeed,
		arg.WeightedAverageWatts,
		arg.Kilojoules,
		arg.KudosCount,
		arg.CommentCount,
		arg.TotalPhotoCount,
		arg.AthleteCount,
		arg.PrCount,
	)
	return err
}

const getActivitiesSince = `-- name: GetActivitiesSince :many
SELECT ` + activityColumns + ` FROM activities
WHERE start_date > ?
ORDER BY start_date DESC, id DESC
`

// GetActivitiesSince returns activities newest first, the order the Strava API lists them in.
func (q *Queries) GetActivitiesSince(ctx context.Context, startDate time.Time) ([]Activity, error) {
	return q.listActivities(ctx, getActivitiesSince, startDate.UTC())
}

const getActivity = `-- name: GetActivity :one
SELECT ` + activityColumns + ` FROM activities WHERE id = ?
`

func (q *Queries) GetActivity(ctx context.Context, id int64) (Activity, error) {
	row := q.db.QueryRowContext(ctx, getActivity, id)
	var i Activity
	err := scanActivity(row, &i)
	return i, err
}

const getLatestActivityDate = `-- name: GetLatestActivityDate :one
SELECT MAX(start_date) FROM activities
`

func (q *Queries) GetLatestActivityDate(ctx context.Context) (interface{}, error) {
	row := q.db.QueryRowContext(ctx, getLatestActivityDate)
	var max interface{}
	err := row.Scan(&max)
	return max, err
}

const getOldestActivityDate = `-- name: GetOldestActivityDate :one
SELECT MIN(start_date) FROM activities
`

func (q *Queries) GetOldestActivityDate(ctx context.Context) (interface{}, error) {
	row := q.db.QueryRowContext(ctx, getOldestActivityDate)
	var min interface{}
	err := row.Scan(&min)
	return min, err
}

const getRecentActivities = `-- name: GetRecentActivities :many
SELECT ` + activityColumns + ` FROM activities
ORDER BY start_date DESC, id DESC
LIMIT ?
`

func (q *Queries) GetRecentActivities(ctx context.Context, limit int64) ([]Activity, error) {
	return q.listActivities(ctx, getRecentActivities, limit)
}
