// Package config loads the bot's runtime configuration from the environment
// and its declarative seed data from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Database drivers selected by the DATABASE_URL scheme.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const sqliteScheme = "sqlite://"

// BotConfig holds process configuration loaded from environment variables.
type BotConfig struct {
	Environment Environment
	LogLevel    string

	DiscordToken string
	GuildID      string

	DatabaseURL string
	RedisURL    string

	HTTPAddr          string
	RateLimitRequests int64
	RateLimitPeriod   string

	SweepInterval     time.Duration
	DriftInterval     time.Duration
	LockTTL           time.Duration
	RetentionSchedule string
}

// Load reads configuration from the environment after applying any .env
// files. Missing .env files are ignored.
func Load(envFiles ...string) (*BotConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	cfg := &BotConfig{
		Environment:       env,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DiscordToken:      strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:           strings.TrimSpace(os.Getenv("DISCORD_GUILD_ID")),
		DatabaseURL:       getEnv("DATABASE_URL", sqliteScheme+"data/phxbot.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		RateLimitRequests: int64(getEnvInt("RATE_LIMIT_REQUESTS", 120)),
		RateLimitPeriod:   getEnv("RATE_LIMIT_PERIOD", "1m"),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),
		DriftInterval:     getEnvDuration("DRIFT_INTERVAL", 10*time.Minute),
		LockTTL:           getEnvDuration("RECONCILE_LOCK_TTL", 5*time.Minute),
		RetentionSchedule: os.Getenv("AUDIT_RETENTION_SCHEDULE"),
	}
	return cfg, nil
}

// Validate checks the settings every command needs. requireDiscord adds the
// checks for commands that connect to the gateway.
func (c *BotConfig) Validate(requireDiscord bool) error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be at least 1s"))
	}
	if c.DriftInterval < c.SweepInterval {
		errs = append(errs, errors.New("DRIFT_INTERVAL must not be shorter than SWEEP_INTERVAL"))
	}
	if requireDiscord {
		if c.DiscordToken == "" {
			errs = append(errs, errors.New("DISCORD_TOKEN is required"))
		}
		if !settings.IsSnowflake(c.GuildID) {
			errs = append(errs, fmt.Errorf("DISCORD_GUILD_ID %q is not a valid id", c.GuildID))
		}
	}
	return errors.Join(errs...)
}

// Database returns the driver name and its data source for DatabaseURL.
// sqlite://path selects SQLite; anything else is handed to PostgreSQL.
func (c *BotConfig) Database() (driver, dsn string) {
	if strings.HasPrefix(c.DatabaseURL, sqliteScheme) {
		return DriverSQLite, strings.TrimPrefix(c.DatabaseURL, sqliteScheme)
	}
	return DriverPostgres, c.DatabaseURL
}

// IsProduction reports whether the bot runs in production.
func (c *BotConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration string, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
