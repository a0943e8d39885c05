// Package config loads runtime settings from flags, environment, an optional .env file and an
// optional YAML config file. Precedence is flag > environment > file > default.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned by Validate when Strava client credentials are required but unset.
var ErrMissingCredentials = errors.New("missing strava client credentials")

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DBPath string

	Strava StravaConfig
	Server ServerConfig
	Cache  CacheConfig
	Render RenderConfig
	Log    LogConfig

	SyncInterval         time.Duration
	TokenRefreshInterval time.Duration
	NoSync               bool
}

// StravaConfig holds API client credentials and optional seed tokens.
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Seed tokens are used when the token store is empty.
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// HasSeedTokens reports whether a refresh token was supplied through the environment.
func (s StravaConfig) HasSeedTokens() bool {
	return s.RefreshToken != ""
}

type ServerConfig struct {
	Address  string
	MCPStdio bool
}

type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	MemoryBytes   int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type RenderConfig struct {
	LayoutPath string
	OutputDir  string
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string][]string{
	"db":                     {"STRAVA_WRAPPED_DB"},
	"strava.client_id":       {"STRAVA_CLIENT_ID"},
	"strava.client_secret":   {"STRAVA_CLIENT_SECRET"},
	"strava.redirect_uri":    {"STRAVA_REDIRECT_URI"},
	"strava.access_token":    {"STRAVA_ACCESS_TOKEN"},
	"strava.refresh_token":   {"STRAVA_REFRESH_TOKEN"},
	"strava.expires_at":      {"STRAVA_EXPIRES_AT"},
	"server.address":         {"STRAVA_WRAPPED_ADDR"},
	"cache.backend":          {"STRAVA_WRAPPED_CACHE"},
	"cache.redis_addr":       {"REDIS_ADDR"},
	"cache.redis_password":   {"REDIS_PASSWORD"},
	"cache.redis_db":         {"REDIS_DB"},
	"render.layout":          {"STRAVA_WRAPPED_LAYOUT"},
	"render.output_dir":      {"STRAVA_WRAPPED_OUTPUT_DIR"},
	"log.file":               {"STRAVA_WRAPPED_LOG_FILE"},
	"sync_interval":          {"STRAVA_WRAPPED_SYNC_INTERVAL"},
	"token_refresh_interval": {"STRAVA_WRAPPED_TOKEN_REFRESH_INTERVAL"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db", "strava_wrapped.db")
	v.SetDefault("strava.redirect_uri", "http://localhost:8089/callback")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mcp_stdio", false)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.memory_bytes", 1024*1024)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("render.layout", "")
	v.SetDefault("render.output_dir", "generated")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("sync_interval", "15m")
	v.SetDefault("token_refresh_interval", "30m")
	v.SetDefault("no_sync", false)
}

// Options controls where Load looks for settings besides the environment.
type Options struct {
	// ConfigFile is an explicit YAML file; when empty ./strava-wrapped.yaml is tried.
	ConfigFile string
	// EnvFiles are loaded into the process environment; defaults to .env. Missing files are ignored.
	EnvFiles []string
	// Flags are bound by name: a flag "sync-interval" sets key "sync_interval".
	Flags *pflag.FlagSet
}

// flagKeys maps flag names to config keys where they differ from the dash-to-underscore rule.
var flagKeys = map[string]string{
	"addr":       "server.address",
	"stdio":      "server.mcp_stdio",
	"cache":      "cache.backend",
	"redis-addr": "cache.redis_addr",
	"layout":     "render.layout",
	"output-dir": "render.output_dir",
	"log-file":   "log.file",
}

// Load resolves a Config using a fresh viper instance.
func Load(opts Options) (*Config, error) {
	return LoadWith(viper.New(), opts)
}

// LoadWith resolves a Config on v.
func LoadWith(v *viper.Viper, opts Options) (*Config, error) {
	// .env never overrides variables already set in the environment
	_ = godotenv.Load(opts.EnvFiles...)

	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("STRAVA_WRAPPED")
	v.AutomaticEnv()
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("strava-wrapped")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	return decode(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath: v.GetString("db"),
		Strava: StravaConfig{
			ClientID:     strings.TrimSpace(v.GetString("strava.client_id")),
			ClientSecret: strings.TrimSpace(v.GetString("strava.client_secret")),
			RedirectURI:  v.GetString("strava.redirect_uri"),
			AccessToken:  v.GetString("strava.access_token"),
			RefreshToken: v.GetString("strava.refresh_token"),
			ExpiresAt:    v.GetInt64("strava.expires_at"),
		},
		Server: ServerConfig{
			Address:  v.GetString("server.address"),
			MCPStdio: v.GetBool("server.mcp_stdio"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("cache.backend")),
			TTL:           v.GetDuration("cache.ttl"),
			MemoryBytes:   v.GetInt("cache.memory_bytes"),
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
		},
		Render: RenderConfig{
			LayoutPath: v.GetString("render.layout"),
			OutputDir:  v.GetString("render.output_dir"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		SyncInterval:         v.GetDuration("sync_interval"),
		TokenRefreshInterval: v.GetDuration("token_refresh_interval"),
		NoSync:               v.GetBool("no_sync"),
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want %s, %s or %s)", cfg.Cache.Backend, CacheMemory, CacheRedis, CacheNone)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", cfg.SyncInterval)
	}
	if cfg.TokenRefreshInterval <= 0 {
		return nil, fmt.Errorf("token refresh interval must be positive, got %s", cfg.TokenRefreshInterval)
	}

	return cfg, nil
}

// Validate checks the settings needed to talk to Strava.
func (c *Config) Validate() error {
	var missing []string
	if c.Strava.ClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}
	if c.Strava.ClientSecret == "" {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}
