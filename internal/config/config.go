package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

type Config struct {
	Port string

	DatabasePath string
	ContentDir   string

	SentryDSN      string
	AllowedOrigins []string

	SessionTTL time.Duration

	// Fixed-window rate limit applied to purchase and download routes.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func New() (*Config, error) {
	cfg := &Config{
		Port:              getenv("PORT", "8080"),
		DatabasePath:      os.Getenv("DATABASE_PATH"),
		ContentDir:        os.Getenv("CONTENT_DIR"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		AllowedOrigins:    []string{getenv("ALLOWED_ORIGINS", "*")},
		SessionTTL:        24 * time.Hour,
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
	}

	var errs *multierror.Error
	if cfg.DatabasePath == "" {
		errs = multierror.Append(errs, errors.New("DATABASE_PATH environment variable is required"))
	}
	if cfg.ContentDir == "" {
		errs = multierror.Append(errs, errors.New("CONTENT_DIR environment variable is required"))
	}

	if ttl := os.Getenv("SESSION_TTL_HOURS"); ttl != "" {
		hours, err := strconv.Atoi(ttl)
		if err != nil || hours <= 0 {
			errs = multierror.Append(errs, errors.New("SESSION_TTL_HOURS must be a positive integer"))
		} else {
			cfg.SessionTTL = time.Duration(hours) * time.Hour
		}
	}

	if limit := os.Getenv("RATE_LIMIT_REQUESTS"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			errs = multierror.Append(errs, errors.New("RATE_LIMIT_REQUESTS must be a positive integer"))
		} else {
			cfg.RateLimitRequests = n
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
