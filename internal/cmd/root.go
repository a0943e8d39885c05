package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbosity  int
	configFile string

	// cfg is resolved in PersistentPreRunE before any command runs
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "strava-wrapped",
	Short: "Strava Wrapped - a yearly recap of your Strava activities",
	Long: `Strava Wrapped syncs your Strava activities to a local SQLite database and
summarizes the trailing year: distance, elevation, sports podium, time of day,
kudos and more.

The server runs with:
- OAuth login routes (/auth, /exchange_token) for the web flow
- Background token refresh to keep authentication valid
- Periodic activity sync from Strava
- JSON and PNG recaps on /wrapped and /wrapped/image
- MCP tools on /mcp (or stdio with --stdio)

Settings come from flags, the environment (STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET,
STRAVA_REFRESH_TOKEN, ...), an optional .env file and strava-wrapped.yaml.
Get API credentials from https://www.strava.com/settings/api
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{
			ConfigFile: configFile,
			Flags:      cmd.Flags(),
		})
		if err != nil {
			return err
		}
		cfg = loaded

		logCloser = logging.SetupWithFile(logging.Level(verbosity), logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser == nil {
			return nil
		}
		return logCloser.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return Serve(cmd.Context(), cfg)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Logging verbosity
	flags.CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")
	flags.StringVar(&configFile, "config", "", "path to a YAML config file (default ./strava-wrapped.yaml)")

	// Bound to config keys by name, see config.Options
	flags.String("db", "strava_wrapped.db", "path to SQLite database file")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.Bool("stdio", false, "also serve MCP over stdio")
	flags.String("cache", config.CacheMemory, "summary cache backend (memory, redis or none)")
	flags.String("redis-addr", "localhost:6379", "Redis address for --cache=redis")
	flags.String("layout", "", "path to a YAML image layout (default built-in)")
	flags.String("output-dir", "generated", "directory rendered images are written to")
	flags.String("log-file", "", "also write JSON logs to this rotated file")
	flags.Duration("sync-interval", 15*time.Minute, "interval between activity syncs")
	flags.Duration("token-refresh-interval", 30*time.Minute, "interval between token refresh checks")

	// Offline mode
	flags.Bool("no-sync", false, "serve stored activities only without Strava API sync (offline mode)")

	rootCmd.AddCommand(serveCmd, wrappedCmd, renderCmd, syncCmd, authCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
