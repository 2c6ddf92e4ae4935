package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

type Config struct {
	Port                 int
	Store                string
	DatabaseURL          string
	MigrationsPath       string
	MongoURI             string
	MongoDatabase        string
	RequestTimeout       time.Duration
	AllowedOrigins       []string
	NotificationsEnabled bool
	NotificationsBaseURL string
	NotificationsTimeout time.Duration
	LogLevel             slog.Level
	OTLPEndpoint         string
}

/* Reads the configuration from the environment, falling back to defaults for unset keys. */
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Store:                getenv("STORE", StoreMemory),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MigrationsPath:       getenv("DATABASE_MIGRATIONS_PATH", "migrations"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		MongoDatabase:        getenv("MONGODB_DATABASE", "LibraryDB"),
		AllowedOrigins:       splitList(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		NotificationsBaseURL: os.Getenv("NOTIFICATIONS_BASE_URL"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	cfg.Port, err = strconv.Atoi(getenv("PORT", "8080"))
	collect(wrap("PORT", err))

	cfg.RequestTimeout, err = time.ParseDuration(getenv("HTTP_REQUEST_TIMEOUT", "5s")) //This ENV must be written with a unit suffix, like 5s
	collect(wrap("HTTP_REQUEST_TIMEOUT", err))

	cfg.NotificationsTimeout, err = time.ParseDuration(getenv("NOTIFICATIONS_TIMEOUT", "2s"))
	collect(wrap("NOTIFICATIONS_TIMEOUT", err))

	cfg.NotificationsEnabled, err = strconv.ParseBool(getenv("NOTIFICATIONS_ENABLED", "false"))
	collect(wrap("NOTIFICATIONS_ENABLED", err))

	err = cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info")))
	collect(wrap("LOG_LEVEL", err))

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			collect(errors.New("DATABASE_URL is required when STORE=postgres"))
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			collect(errors.New("MONGODB_URI is required when STORE=mongo"))
		}
	default:
		collect(fmt.Errorf("STORE: unknown store %q", cfg.Store))
	}

	if cfg.NotificationsEnabled && cfg.NotificationsBaseURL == "" {
		collect(errors.New("NOTIFICATIONS_BASE_URL is required when NOTIFICATIONS_ENABLED=true"))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("loading config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func wrap(k string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", k, err)
}

func splitList(s string) []string {
	items := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
