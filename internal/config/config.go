// Package config loads engine settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"costengine/internal/core/types"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/run"
)

type Config struct {
	AppEnv   string
	LogLevel string

	// Storage. DATABASE_URL wins over SQLITE_PATH; with neither set the
	// engine runs on an in-memory store.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Workers            int
	MaxConflictRetries int
	OnError            run.ErrorPolicy
	LaneLockTTL        time.Duration
	FallbackUnitCost   types.Money
	SalePredicate      string
	DefaultTimezone    string

	MetricsAddr string
	// OutboxInterval is the relay polling period of cmd/worker.
	OutboxInterval  time.Duration
	OutboxBatchSize int
	// OutboxStream is the Redis stream the worker delivers events to.
	OutboxStream       string
	OutboxStreamMaxLen int64
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	def := run.DefaultConfig()
	cfg := Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		Workers:            getEnvInt("WORKERS", def.Workers),
		MaxConflictRetries: getEnvInt("MAX_CONFLICT_RETRIES", def.MaxConflictRetries),
		LaneLockTTL:        getEnvDuration("LANE_LOCK_TTL", def.LaneLockTTL),
		SalePredicate:      getEnv("SALE_PREDICATE", consumption.DefaultSalePredicate),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "UTC"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
		OutboxInterval:     getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxStream:       getEnv("OUTBOX_STREAM", "costengine:events"),
		OutboxStreamMaxLen: int64(getEnvInt("OUTBOX_STREAM_MAXLEN", 100000)),
	}

	policy, ok := run.ParseErrorPolicy(getEnv("ON_ERROR", string(def.OnError)))
	if !ok {
		return Config{}, fmt.Errorf("invalid ON_ERROR %q (want skip or fail)", os.Getenv("ON_ERROR"))
	}
	cfg.OnError = policy

	cost, err := types.NewMoneyFromString(getEnv("FALLBACK_UNIT_COST", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid FALLBACK_UNIT_COST: %w", err)
	}
	if cost.IsNegative() {
		return Config{}, fmt.Errorf("FALLBACK_UNIT_COST must not be negative")
	}
	cfg.FallbackUnitCost = cost

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Development reports whether the console log encoder should be used.
func (c Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// Location returns the default branch timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Engine returns the run.Config part of the settings.
func (c Config) Engine() run.Config {
	return run.Config{
		Workers:            c.Workers,
		MaxConflictRetries: c.MaxConflictRetries,
		OnError:            c.OnError,
		LaneLockTTL:        c.LaneLockTTL,
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
