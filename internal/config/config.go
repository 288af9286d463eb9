package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "KitaPay"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultSweepInterval     = time.Minute
	defaultSettlementTimeout = 3 * time.Second
	defaultScheduleTimezone  = "UTC"
	defaultMutationRateLimit = 60

	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
	sweepIntervalEnvVar      = "SWEEP_INTERVAL"
	settlementSecondsEnvVar  = "SETTLEMENT_TIMEOUT_SECONDS"
	settlementDurationEnvVar = "SETTLEMENT_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	ShutdownPeriod    time.Duration
	SweepInterval     time.Duration
	SettlementURL     string
	SettlementTimeout time.Duration
	ScheduleTimezone  string
	MutationRateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		SweepInterval:     defaultSweepInterval,
		SettlementURL:     os.Getenv("SETTLEMENT_URL"),
		SettlementTimeout: defaultSettlementTimeout,
		ScheduleTimezone:  getEnv("SCHEDULE_TIMEZONE", defaultScheduleTimezone),
		MutationRateLimit: defaultMutationRateLimit,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(sweepIntervalEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", sweepIntervalEnvVar, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", sweepIntervalEnvVar)
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv(settlementSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", settlementSecondsEnvVar, err)
		}
		cfg.SettlementTimeout = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(settlementDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", settlementDurationEnvVar, err)
		}
		cfg.SettlementTimeout = d
	}

	if v := os.Getenv("MUTATION_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MUTATION_RATE_LIMIT: %w", err)
		}
		cfg.MutationRateLimit = n
	}

	if _, err := time.LoadLocation(cfg.ScheduleTimezone); err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULE_TIMEZONE: %w", err)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves the configured schedule timezone. The name is validated
// during Load, so resolution only falls back to UTC when Load was bypassed.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDev reports whether the app runs in a development-style environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
