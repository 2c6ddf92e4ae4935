package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/config"
	bookhttp "github.com/library-service/cmd/api/http"
	"github.com/library-service/cmd/api/notifications"
	"github.com/library-service/cmd/api/telemetry"
)

const (
	serviceName     = "library-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	err := run()
	if err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store, err)
	}
	defer closeStore()

	ntfy := notifications.NewNtfy(cfg.NotificationsEnabled, cfg.NotificationsBaseURL, &http.Client{})

	bookService := book.NewService(store, ntfy, cfg.NotificationsTimeout)
	bookHandler := bookhttp.NewBookHandler(bookService, cfg.RequestTimeout)

	//create and init http server:
	server := bookhttp.NewServer(bookhttp.ServerConfig{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
	}, bookHandler)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "port", cfg.Port, "store", cfg.Store)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-sc:
	}

	ctx, shutdownRelease := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownRelease()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	slog.Info("Graceful shutdown complete.")
	return nil
}
