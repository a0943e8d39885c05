package db

import (
	"context"
	"time"
)

type Querier interface {
	CountActivities(ctx context.Context) (int64, error)
	CountActivitiesSince(ctx context.Context, startDate time.Time) (int64, error)
	CreateActivity(ctx context.Context, arg CreateActivityParams) error
	DeleteAuthConfig(ctx context.Context) error
	GetActivitiesSince(ctx context.Context, startDate time.Time) ([]Activity, error)
	GetActivity(ctx context.Context, id int64) (Activity, error)
	GetAuthConfig(ctx context.Context) (AuthConfig, error)
	GetLatestActivityDate(ctx context.Context) (interface{}, error)
	GetOldestActivityDate(ctx context.Context) (interface{}, error)
	GetRecentActivities(ctx context.Context, limit int64) ([]Activity, error)
	SaveAuthConfig(ctx context.Context, arg SaveAuthConfigParams) error
	UpdateTokens(ctx context.Context, arg UpdateTokensParams) error
}

var _ Querier = (*Queries)(nil)
