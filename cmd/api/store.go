package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/config"
	"github.com/library-service/cmd/api/database"
	"github.com/library-service/cmd/api/inmemory"
	"github.com/library-service/cmd/api/mongodb"

	"github.com/golang-migrate/migrate/v4"
)

/* Opens the configured store. The returned func releases its connections. */
func openStore(ctx context.Context, cfg config.Config) (book.Repository, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		//connect to db:
		dbObject, err := database.ConnectDb(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting with db: %w", err)
		}

		//apply migrations:
		store := database.NewStore(dbObject)
		err = database.MigrationUp(store, cfg.MigrationsPath)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			dbObject.Close()
			return nil, nil, fmt.Errorf("migrating: %w", err)
		}
		return store, func() { dbObject.Close() }, nil

	case config.StoreMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}

		store := mongodb.NewStore(client, cfg.MongoDatabase)
		err = store.EnsureIndexes(ctx)
		if err != nil {
			client.Disconnect(ctx)
			return nil, nil, err
		}
		return store, func() {
			err := client.Disconnect(context.Background())
			if err != nil {
				slog.Warn("disconnecting from mongo", "error", err)
			}
		}, nil

	default:
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("using the in-memory store, data is lost on restart")
		return store, func() {}, nil
	}
}
