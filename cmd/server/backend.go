package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/db/memory"
	"github.com/orgstore/orgstore/internal/services"
)

// backend is the opened registry/partition store selected by database.backend.
type backend struct {
	Stores   services.Stores
	client   *mongo.Client
	database *mongo.Database
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Backend {
	case "memory":
		slog.Warn("using the in-memory store; all data is lost on exit")
		return &backend{Stores: services.NewMemoryStores(memory.New())}, nil
	case "mongo", "":
		client, err := db.Connect(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.Database.Name)
		slog.Info("connected to document store", "database", cfg.Database.Name)
		return &backend{
			Stores:   services.NewMongoStores(database),
			client:   client,
			database: database,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

// Ping checks connectivity to the primary. The memory backend is always up.
func (b *backend) Ping(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Ping(ctx, readpref.Primary())
}

func (b *backend) EnsureIndexes(ctx context.Context) error {
	if b.database == nil {
		return nil
	}
	return db.EnsureIndexes(ctx, b.database)
}

func (b *backend) Close() {
	if b.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Disconnect(ctx, b.client); err != nil {
		slog.Error("disconnect failed", "error", err)
	}
}
