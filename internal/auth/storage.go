package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned when no usable tokens are stored.
var ErrNotAuthenticated = errors.New("not authenticated: run 'strava-wrapped auth login' first")

// TokenProvider hands out access tokens that are valid for at least a few minutes.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Storage handles auth data persistence using SQLite
type Storage struct {
	queries     *db.Queries
	endpoint    oauth2.Endpoint
	redirectURI string

	// refreshes are serialized so a rotated refresh token is never used twice
	mu sync.Mutex
}

// Option configures a Storage.
type Option func(*Storage)

// WithEndpoint overrides the OAuth2 endpoint used for refreshes.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(s *Storage) { s.endpoint = endpoint }
}

// WithRedirectURI sets the redirect URI placed in OAuth configs built from stored credentials.
func WithRedirectURI(uri string) Option {
	return func(s *Storage) { s.redirectURI = uri }
}

// NewStorage creates a new Storage instance
func NewStorage(queries *db.Queries, opts ...Option) *Storage {
	s := &Storage{
		queries:  queries,
		endpoint: StravaEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OAuthConfig builds an OAuth2 config from explicit credentials with this storage's endpoint.
func (s *Storage) OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return newOAuthConfig(clientID, clientSecret, s.redirectURI, s.endpoint)
}

// SaveTokens saves tokens to the database
func (s *Storage) SaveTokens(ctx context.Context, tokens *TokenResponse) error {
	_, err := s.queries.GetAuthConfig(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no client config found: %w", ErrNotAuthenticated)
	}
	if err != nil {
		return fmt.Errorf("checking existing config: %w", err)
	}

	return s.queries.UpdateTokens(ctx, db.UpdateTokensParams{
		AccessToken:  sql.NullString{String: tokens.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: tokens.RefreshToken, Valid: true},
		ExpiresAt:    sql.NullInt64{Int64: tokens.ExpiresAt, Valid: true},
	})
}

// LoadTokens loads tokens from the database
func (s *Storage) LoadTokens(ctx context.Context) (*StoredTokens, error) {
	cfg, err := s.queries.GetAuthConfig(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	if !cfg.AccessToken.Valid || !cfg.RefreshToken.Valid {
		return nil, ErrNotAuthenticated
	}

	return &StoredTokens{
		AccessToken:  cfg.AccessToken.String,
		RefreshToken: cfg.RefreshToken.String,
		ExpiresAt:    cfg.ExpiresAt.Int64,
		AthleteID:    cfg.AthleteID.Int64,
	}, nil
}

// SaveClientConfig saves client credentials, clearing any stored tokens
func (s *Storage) SaveClientConfig(ctx context.Context, clientID, clientSecret string) error {
	return s.queries.SaveAuthConfig(ctx, db.SaveAuthConfigParams{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

// SaveFullConfig saves client credentials and tokens together
func (s *Storage) SaveFullConfig(ctx context.Context, clientID, clientSecret string, tokens *TokenResponse) error {
	params := db.SaveAuthConfigParams{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AccessToken:  sql.NullString{String: tokens.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: tokens.RefreshToken, Valid: true},
		ExpiresAt:    sql.NullInt64{Int64: tokens.ExpiresAt, Valid: true},
	}
	if tokens.AthleteID != 0 {
		params.AthleteID = sql.NullInt64{Int64: tokens.AthleteID, Valid: true}
	}
	return s.queries.SaveAuthConfig(ctx, params)
}

// LoadClientConfig loads client credentials from the database
func (s *Storage) LoadClientConfig(ctx context.Context) (*ClientConfig, error) {
	cfg, err := s.queries.GetAuthConfig(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client not configured: %w", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	return &ClientConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, nil
}

// DeleteTokens removes the stored auth config from the database
func (s *Storage) DeleteTokens(ctx context.Context) error {
	return s.queries.DeleteAuthConfig(ctx)
}

// SeedFromEnv stores the client credentials and tokens from cfg when the store holds no tokens.
// It reports whether anything was written.
func (s *Storage) SeedFromEnv(ctx context.Context, cfg config.StravaConfig) (bool, error) {
	if !cfg.HasSeedTokens() || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return false, nil
	}

	_, err := s.LoadTokens(ctx)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotAuthenticated):
		return false, err
	}

	tokens := &TokenResponse{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		ExpiresAt:    cfg.ExpiresAt,
	}
	if err := s.SaveFullConfig(ctx, cfg.ClientID, cfg.ClientSecret, tokens); err != nil {
		return false, fmt.Errorf("seeding tokens: %w", err)
	}

	logging.Logger.Info().
		Str("expires_at", time.Unix(cfg.ExpiresAt, 0).UTC().Format(time.RFC3339)).
		Msg("seeded tokens from environment")
	return true, nil
}

// GetValidAccessToken returns a valid access token, refreshing if necessary
func (s *Storage) GetValidAccessToken(ctx context.Context) (string, error) {
	tokens, _, err := s.RefreshIfExpiring(ctx, expiryLeeway)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// RefreshIfExpiring refreshes and persists the tokens when they expire within d.
// It returns the current tokens and whether a refresh happened.
func (s *Storage) RefreshIfExpiring(ctx context.Context, d time.Duration) (*StoredTokens, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return nil, false, err
	}

	if !ExpiresWithin(tokens.ExpiresAt, d, time.Now()) {
		return tokens, false, nil
	}

	client, err := s.LoadClientConfig(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading client config for refresh: %w", err)
	}

	oauthCfg := s.OAuthConfig(client.ClientID, client.ClientSecret)
	newTokens, err := RefreshAccessToken(ctx, oauthCfg, tokens.RefreshToken)
	if err != nil {
		return nil, false, fmt.Errorf("refreshing token: %w", err)
	}

	if err := s.SaveTokens(ctx, newTokens); err != nil {
		return nil, false, fmt.Errorf("saving refreshed tokens: %w", err)
	}

	logging.Logger.Debug().
		Str("new_expires_at", time.Unix(newTokens.ExpiresAt, 0).UTC().Format(time.RFC3339)).
		Msg("access token refreshed")

	return &StoredTokens{
		AccessToken:  newTokens.AccessToken,
		RefreshToken: newTokens.RefreshToken,
		ExpiresAt:    newTokens.ExpiresAt,
		AthleteID:    tokens.AthleteID,
	}, true, nil
}

// StoredTokens represents the tokens stored in the database
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	AthleteID    int64
}

// ClientConfig represents the stored client credentials
type ClientConfig struct {
	ClientID     string
	ClientSecret string
}
