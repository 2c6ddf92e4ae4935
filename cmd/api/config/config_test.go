package config_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/library-service/cmd/api/config"
	"github.com/matryer/is"
)

var keys = []string{
	"PORT", "STORE", "DATABASE_URL", "DATABASE_MIGRATIONS_PATH", "MONGODB_URI", "MONGODB_DATABASE",
	"HTTP_REQUEST_TIMEOUT", "CORS_ALLOWED_ORIGINS", "NOTIFICATIONS_ENABLED", "NOTIFICATIONS_BASE_URL",
	"NOTIFICATIONS_TIMEOUT", "LOG_LEVEL", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

/* Blanks every key so the developer's environment does not leak into the test. */
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("falls back to defaults", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)

		cfg, err := config.Load()
		is.NoErr(err)
		is.Equal(cfg.Port, 8080)
		is.Equal(cfg.Store, config.StoreMemory)
		is.Equal(cfg.MigrationsPath, "migrations")
		is.Equal(cfg.MongoDatabase, "LibraryDB")
		is.Equal(cfg.RequestTimeout, 5*time.Second)
		is.Equal(cfg.NotificationsTimeout, 2*time.Second)
		is.Equal(cfg.NotificationsEnabled, false)
		is.Equal(cfg.AllowedOrigins, []string{"http://localhost:5173"})
		is.Equal(cfg.LogLevel, slog.LevelInfo)
		is.Equal(cfg.OTLPEndpoint, "")
	})

	t.Run("reads every key from the environment", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("PORT", "9090")
		t.Setenv("STORE", "postgres")
		t.Setenv("DATABASE_URL", "postgres://localhost/library")
		t.Setenv("HTTP_REQUEST_TIMEOUT", "750ms")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("NOTIFICATIONS_ENABLED", "true")
		t.Setenv("NOTIFICATIONS_BASE_URL", "https://ntfy.sh/library")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := config.Load()
		is.NoErr(err)
		is.Equal(cfg.Port, 9090)
		is.Equal(cfg.Store, config.StorePostgres)
		is.Equal(cfg.DatabaseURL, "postgres://localhost/library")
		is.Equal(cfg.RequestTimeout, 750*time.Millisecond)
		is.Equal(cfg.AllowedOrigins, []string{"https://a.example", "https://b.example"})
		is.True(cfg.NotificationsEnabled)
		is.Equal(cfg.LogLevel, slog.LevelDebug)
	})

	t.Run("expected error for a store without its connection", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("STORE", "mongo")

		_, err := config.Load()
		is.True(err != nil)
		is.True(strings.Contains(err.Error(), "MONGODB_URI"))
	})

	t.Run("expected every invalid value to be reported", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("PORT", "eighty")
		t.Setenv("HTTP_REQUEST_TIMEOUT", "5")
		t.Setenv("STORE", "redis")

		_, err := config.Load()
		is.True(err != nil)
		is.True(strings.Contains(err.Error(), "PORT"))
		is.True(strings.Contains(err.Error(), "HTTP_REQUEST_TIMEOUT"))
		is.True(strings.Contains(err.Error(), "STORE"))
	})
}
