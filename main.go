package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"wavecrate.app/server/delivery"
	"wavecrate.app/server/handlers"
	"wavecrate.app/server/internal/config"
	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/internal/ratelimit"
	"wavecrate.app/server/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		logger.Error("invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			logger.Error("sentry init failed", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}

	db, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open storage", map[string]interface{}{
			"error": err.Error(),
			"path":  cfg.DatabasePath,
		})
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close storage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	server := handlers.NewServer(db, delivery.New(cfg.ContentDir), handlers.Options{
		Version:        version,
		SessionTTL:     cfg.SessionTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow),
	})

	logger.Info("wavecrate api starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})
	if err := http.ListenAndServe(":"+cfg.Port, server.Router); err != nil {
		logger.Error("server stopped", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}
