package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/joshdurbin/strava-wrapped/internal/workers"
	"github.com/spf13/cobra"
)

var errSyncDisabled = errors.New("strava sync is disabled (--no-sync)")

var (
	refreshFirst   bool
	renderTemplate string
)

var wrappedCmd = &cobra.Command{
	Use:   "wrapped",
	Short: "Print the summary of the last 365 days as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if refreshFirst {
				if _, err := syncOnce(ctx, a); err != nil {
					return err
				}
			}
			summary, err := a.reports.Summary(ctx)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), summary)
		})
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Draw the summary onto an image template and save it as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if refreshFirst {
				if _, err := syncOnce(ctx, a); err != nil {
					return err
				}
			}
			path, err := a.reports.Save(ctx, renderTemplate)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new activities from Strava once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := syncOnce(ctx, a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d activities, saved %d.\n", res.Fetched, res.Saved)
			return nil
		})
	},
}

func init() {
	wrappedCmd.Flags().BoolVar(&refreshFirst, "refresh", false, "sync new activities from Strava first")

	renderCmd.Flags().BoolVar(&refreshFirst, "refresh", false, "sync new activities from Strava first")
	renderCmd.Flags().StringVarP(&renderTemplate, "template", "t", "", "layout template to draw (default template when empty)")
}

// syncOnce runs one delta sync through the same path as the background worker.
func syncOnce(ctx context.Context, a *app) (syncsvc.Result, error) {
	if a.syncer == nil {
		return syncsvc.Result{}, errSyncDisabled
	}
	res, err := workers.NewActivitySyncer(a.syncer, a.reports, 0, a.metrics).SyncOnce(ctx)
	if err != nil {
		switch {
		case errors.Is(err, strava.ErrRateLimited):
			logging.Logger.Warn().Msg("strava rate limit reached, try again later")
		case errors.Is(err, strava.ErrUnauthorized):
			logging.Logger.Warn().Msg("strava rejected the token, run 'strava-wrapped auth login'")
		}
		return res, fmt.Errorf("syncing activities: %w", err)
	}
	return res, nil
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
