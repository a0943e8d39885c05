package db

import (
	"database/sql"
	"time"
)

type Activity struct {
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
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type AuthConfig struct {
	ID           int64
	ClientID     string
	ClientSecret string
	AccessToken  sql.NullString
	RefreshToken sql.NullString
	ExpiresAt    sql.NullInt64
	AthleteID    sql.NullInt64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
