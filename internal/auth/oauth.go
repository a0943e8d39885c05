package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

const (
	authURL            = "https://www.strava.com/oauth/authorize"
	tokenURL           = "https://www.strava.com/oauth/token"
	DefaultRedirectURI = "http://localhost:8089/callback"
	scopes             = "activity:read_all"

	// expiryLeeway is how close to expiry a token is treated as expired.
	expiryLeeway = 5 * time.Minute
)

// StravaEndpoint is the Strava OAuth2 endpoint.
var StravaEndpoint = oauth2.Endpoint{
	AuthURL:   authURL,
	TokenURL:  tokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// StravaOAuthConfig returns an OAuth2 config for Strava. An empty redirectURI uses DefaultRedirectURI.
func StravaOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return newOAuthConfig(clientID, clientSecret, redirectURI, StravaEndpoint)
}

func newOAuthConfig(clientID, clientSecret, redirectURI string, endpoint oauth2.Endpoint) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{scopes},
	}
}

// TokenResponse represents the OAuth token response from Strava
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	AthleteID    int64  `json:"athlete_id,omitempty"`
	AthleteName  string `json:"athlete_name,omitempty"`
}

// TokenFromOAuth2 converts an oauth2.Token to our TokenResponse.
// Strava returns a summary athlete alongside the token on code exchange.
func TokenFromOAuth2(token *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		resp.ExpiresIn = int(time.Until(token.Expiry).Seconds())
	}

	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			resp.AthleteID = int64(id)
		}
		first, _ := athlete["firstname"].(string)
		last, _ := athlete["lastname"].(string)
		switch {
		case first != "" && last != "":
			resp.AthleteName = first + " " + last
		default:
			resp.AthleteName = first + last
		}
	}
	return resp
}

// ToOAuth2Token converts our TokenResponse to an oauth2.Token
func (t *TokenResponse) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       time.Unix(t.ExpiresAt, 0),
		TokenType:    t.TokenType,
	}
}

// AuthCodeURL builds the authorize URL used by the web login route.
// Strava only re-prompts the athlete when the granted scope changed.
func AuthCodeURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange trades an authorization code for tokens.
func Exchange(ctx context.Context, config *oauth2.Config, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("token exchange failed: empty authorization code")
	}
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return TokenFromOAuth2(token), nil
}

// Authenticate performs the OAuth flow from the terminal and returns tokens.
// It serves the callback on the host and port of config.RedirectURL.
func Authenticate(ctx context.Context, config *oauth2.Config) (*TokenResponse, error) {
	callback, err := url.Parse(config.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}
	addr := callback.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "80")
	}
	path := callback.Path
	if path == "" {
		path = "/"
	}

	// CSRF state checked on the callback
	state := uuid.NewString()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: state mismatch")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			errMsg := r.URL.Query().Get("error")
			if errMsg == "" {
				errMsg = "no authorization code received"
			}
			http.Error(w, errMsg, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: %s", errMsg)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>`)
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))

	fmt.Println("Opening browser for Strava authorization...")
	fmt.Printf("If browser doesn't open, visit: %s\n\n", authURL)

	if err := browser.OpenURL(authURL); err != nil {
		logging.Warn("could not open browser automatically", "error", err)
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		server.Shutdown(context.Background())
		return nil, err
	case <-ctx.Done():
		server.Shutdown(context.Background())
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		server.Shutdown(context.Background())
		return nil, fmt.Errorf("authorization timeout")
	}

	server.Shutdown(ctx)

	return Exchange(ctx, config, code)
}

// RefreshAccessToken exchanges a refresh token for a new token pair.
// Strava rotates refresh tokens, so callers must persist the returned one.
func RefreshAccessToken(ctx context.Context, config *oauth2.Config, refreshToken string) (*TokenResponse, error) {
	oldToken := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // Force refresh
	}

	newToken, err := config.TokenSource(ctx, oldToken).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	resp := TokenFromOAuth2(newToken)
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// IsTokenExpired checks if the token is expired or will expire soon
func IsTokenExpired(expiresAt int64) bool {
	return ExpiresWithin(expiresAt, expiryLeeway, time.Now())
}

// ExpiresWithin reports whether expiresAt falls within d of now.
func ExpiresWithin(expiresAt int64, d time.Duration, now time.Time) bool {
	return now.Add(d).Unix() > expiresAt
}
