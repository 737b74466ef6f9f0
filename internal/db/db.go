// Package db manages the document store connection and the registry indexes.
// The registry (organizations, admins) and every tenant partition live in the
// same database; partitions are collections named by their storage key.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/orgstore/orgstore/internal/config"
)

// Registry collection names.
const (
	OrganizationsCollection = "organizations"
	AdminsCollection        = "admins"
)

// ErrDuplicateKey is returned by repositories when a unique index rejects a write.
var ErrDuplicateKey = errors.New("duplicate key")

// Connect opens a client and pings the primary, retrying up to
// cfg.ConnectRetries times with cfg.RetryBackoff between attempts.
// It returns an error once every attempt has failed.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := connectOnce(ctx, opts)
		if err == nil {
			if attempt > 1 {
				slog.Info("connected to document store", "attempt", attempt)
			}
			return client, nil
		}
		lastErr = err
		slog.Warn("document store not reachable", "attempt", attempt, "max_attempts", attempts, "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to document store: %w", ctx.Err())
		case <-time.After(cfg.RetryBackoff):
		}
	}

	return nil, fmt.Errorf("failed to connect to document store after %d attempts: %w", attempts, lastErr)
}

func connectOnce(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return client, nil
}

// Disconnect releases the client. A nil client is a no-op.
func Disconnect(ctx context.Context, client *mongo.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from document store: %w", err)
	}
	return nil
}

// EnsureIndexes creates the registry's unique indexes. It is safe to call on
// every startup; creating an index that already exists with the same
// definition is a no-op on the server.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	unique := func(name string) *options.IndexOptions {
		return options.Index().SetUnique(true).SetName(name)
	}

	orgIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name_lower", Value: 1}}, Options: unique("uniq_name_lower")},
		{Keys: bson.D{{Key: "storage_key", Value: 1}}, Options: unique("uniq_storage_key")},
	}
	if _, err := database.Collection(OrganizationsCollection).Indexes().CreateMany(ctx, orgIndexes); err != nil {
		return fmt.Errorf("failed to create organization indexes: %w", err)
	}

	adminIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique("uniq_email")},
		{Keys: bson.D{{Key: "organization_name", Value: 1}}, Options: options.Index().SetName("idx_organization_name")},
	}
	if _, err := database.Collection(AdminsCollection).Indexes().CreateMany(ctx, adminIndexes); err != nil {
		return fmt.Errorf("failed to create admin indexes: %w", err)
	}

	return nil
}

// TranslateError maps driver errors onto package sentinels. Other errors are
// returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// IsRegistryCollection reports whether name is one of the registry's own collections.
func IsRegistryCollection(name string) bool {
	return name == OrganizationsCollection || name == AdminsCollection
}
