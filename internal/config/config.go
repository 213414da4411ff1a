// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables, optionally
// seeded from a .env file in the working directory.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string `env:"PORT" envDefault:"8080"`

	// LogLevel controls the minimum log level.
	// Valid values: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to the Vite dev server.
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// StoreBackend picks where trips live: "local" keeps them in a SQLite
	// file for the single implicit user, "remote" keeps them in Postgres
	// partitioned by signed-in user.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"local"`

	// LocalDBPath is the SQLite file backing the local store.
	LocalDBPath string `env:"LOCAL_DB_PATH" envDefault:"data/trips.db"`

	// LocalStorageKey is the key the local store's JSON blob is saved under.
	LocalStorageKey string `env:"LOCAL_STORAGE_KEY" envDefault:"travel_planner_trips"`

	// DatabaseURL is the Postgres connection string. Required for remote.
	DatabaseURL string `env:"DATABASE_URL"`

	// AuthJWTSecret is the HS256 key the identity provider signs tokens
	// with. Required for remote. When empty, every request acts as the
	// local user.
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	// AuthIssuer, when set, must match the iss claim of incoming tokens.
	AuthIssuer string `env:"AUTH_ISSUER"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// MirrorIdleTTL is how long a user's in-memory trip mirror outlives its
	// last subscriber in remote mode.
	MirrorIdleTTL time.Duration `env:"MIRROR_IDLE_TTL" envDefault:"5m"`

	// MigrateOnStart applies pending migrations before serving in remote mode.
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`
}

// Load reads configuration from environment variables and returns a Config.
// A missing .env file is not an error; variables already set in the
// environment win over the file.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config.Load: read .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	switch cfg.StoreBackend {
	case BackendLocal:
	case BackendRemote:
		var missing []string
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if cfg.AuthJWTSecret == "" {
			missing = append(missing, "AUTH_JWT_SECRET")
		}
		if len(missing) > 0 {
			return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
		}
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendLocal, BackendRemote, cfg.StoreBackend)
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}
	return cfg, nil
}

// trimAll trims every entry and drops the empty ones.
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
