package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored Strava authorization",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with Strava in the browser and store the tokens",
	Long: `Runs the OAuth flow from the terminal. A callback server listens on the
host and port of the redirect URI (STRAVA_REDIRECT_URI, default
http://localhost:8089/callback); that URI's host must be allowed as the
Authorization Callback Domain of your Strava API application.

Credentials come from STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET, then from the
database, and are otherwise prompted for.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runLogin(ctx, a, os.Stdin, cmd.OutOrStdout())
		})
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored credentials and tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.storage.DeleteTokens(ctx); err != nil {
				return fmt.Errorf("deleting auth config: %w", err)
			}
			if err := a.reports.Invalidate(ctx); err != nil {
				logging.Logger.Warn().Err(err).Msg("failed to invalidate cached summary")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		})
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether tokens are stored and when they expire",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			tokens, err := a.storage.LoadTokens(ctx)
			if errors.Is(err, auth.ErrNotAuthenticated) {
				fmt.Fprintln(out, "Not authenticated. Run 'strava-wrapped auth login'.")
				return nil
			}
			if err != nil {
				return err
			}
			if tokens.AthleteID != 0 {
				fmt.Fprintf(out, "Athlete: %d\n", tokens.AthleteID)
			}
			fmt.Fprintf(out, "Access token: %s\n", tokenStatus(tokens, time.Now()))
			return nil
		})
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
}

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) (err error) {
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	return fn(ctx, a)
}

// runLogin resolves client credentials and performs the OAuth flow with Strava.
func runLogin(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	log := logging.Logger
	reader := bufio.NewReader(in)

	clientConfig, err := resolveCredentials(ctx, a, reader, out)
	if err != nil {
		return fmt.Errorf("getting credentials: %w", err)
	}

	fmt.Fprintln(out, "\n=== Strava Authentication Required ===")
	fmt.Fprintln(out, "A browser window will open for you to authorize this application.")

	tokens, err := auth.Authenticate(ctx, a.storage.OAuthConfig(clientConfig.ClientID, clientConfig.ClientSecret))
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	log.Info().
		Int64("athlete_id", tokens.AthleteID).
		Str("expires_at", time.Unix(tokens.ExpiresAt, 0).UTC().Format(time.RFC3339)).
		Msg("OAuth authentication successful")

	// Save tokens with client config
	if err := a.storage.SaveFullConfig(ctx, clientConfig.ClientID, clientConfig.ClientSecret, tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	if err := a.reports.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate cached summary")
	}

	greeting := "Authentication successful!"
	if tokens.AthleteName != "" {
		greeting = fmt.Sprintf("Welcome, %s!", tokens.AthleteName)
	}
	fmt.Fprintf(out, "\n%s Token expires: %s\n\n", greeting, time.Unix(tokens.ExpiresAt, 0).Format(time.RFC1123))
	return nil
}

// resolveCredentials prefers configured credentials, then stored ones, then the prompt.
func resolveCredentials(ctx context.Context, a *app, reader *bufio.Reader, out io.Writer) (*auth.ClientConfig, error) {
	if err := a.cfg.Validate(); err == nil {
		return &auth.ClientConfig{
			ClientID:     a.cfg.Strava.ClientID,
			ClientSecret: a.cfg.Strava.ClientSecret,
		}, nil
	} else if !errors.Is(err, config.ErrMissingCredentials) {
		return nil, err
	}

	if stored, err := a.storage.LoadClientConfig(ctx); err == nil && stored.ClientID != "" && stored.ClientSecret != "" {
		logging.Debug("using stored client credentials", "client_id", stored.ClientID)
		return stored, nil
	}

	return promptForCredentials(reader, out)
}

// promptForCredentials prompts the user to enter their Strava API credentials
func promptForCredentials(reader *bufio.Reader, out io.Writer) (*auth.ClientConfig, error) {
	fmt.Fprintln(out, "\n=== Strava API Credentials Required ===")
	fmt.Fprintln(out, "Get your API credentials from: https://www.strava.com/settings/api")
	fmt.Fprintln(out)

	clientID, err := promptLine(reader, out, "Enter your Client ID: ")
	if err != nil {
		return nil, fmt.Errorf("reading client ID: %w", err)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	clientSecret, err := promptLine(reader, out, "Enter your Client Secret: ")
	if err != nil {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &auth.ClientConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

func promptLine(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	// a final line without newline still counts
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// tokenStatus describes the stored tokens for humans.
func tokenStatus(tokens *auth.StoredTokens, now time.Time) string {
	expires := time.Unix(tokens.ExpiresAt, 0).UTC()
	if auth.ExpiresWithin(tokens.ExpiresAt, 0, now) {
		return fmt.Sprintf("expired at %s (refreshed on next use)", expires.Format(time.RFC1123))
	}
	return fmt.Sprintf("valid until %s", expires.Format(time.RFC1123))
}
