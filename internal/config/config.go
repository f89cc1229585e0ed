package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string // empty: in-memory store
	JWTSecret       string
	IssuerKey       string // empty: bearer tokens are minted outside this service
	TokenTTL        time.Duration
	TokenServiceURL string // empty: transfers are only logged
	TokenTimeout    time.Duration
	RelayInterval   time.Duration
	RelayBatch      int
	RelayAttempts   int
	RelayMaxBackoff time.Duration
	LogLevel        zapcore.Level
	Development     bool
}

// Load reads an optional .env file and then the environment. Every invalid or missing value
// is reported in the returned error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		HTTPAddr:        withDefault(getenv("HTTP_ADDR"), ":8080"),
		DatabaseURL:     getenv("DATABASE_URL"),
		JWTSecret:       getenv("JWT_SECRET"),
		IssuerKey:       getenv("ISSUER_KEY"),
		TokenServiceURL: getenv("TOKEN_SERVICE_URL"),
		Development:     getenv("APP_ENV") == "development",
	}

	var errs error
	if cfg.JWTSecret == "" {
		errs = multierr.Append(errs, errors.New("JWT_SECRET is required"))
	}

	var err error
	if cfg.TokenTimeout, err = duration(getenv, "TOKEN_TIMEOUT", 10*time.Second); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.RelayInterval, err = duration(getenv, "RELAY_INTERVAL", 2*time.Second); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.RelayBatch, err = positiveInt(getenv, "RELAY_BATCH", 50); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.RelayAttempts, err = positiveInt(getenv, "RELAY_MAX_ATTEMPTS", 10); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.RelayMaxBackoff, err = duration(getenv, "RELAY_MAX_BACKOFF", 5*time.Minute); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.TokenTTL, err = duration(getenv, "TOKEN_TTL", 24*time.Hour); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(withDefault(getenv("LOG_LEVEL"), "info"))); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return cfg, errs
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

func positiveInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return def, fmt.Errorf("%s: must be positive, got %d", key, n)
	}
	return n, nil
}
