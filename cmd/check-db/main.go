// Package main is a diagnostic tool for testing document store connectivity and
// inspecting the live registry. It connects using the normal configuration,
// prints the organizations with their partition sizes, and flags partitions no
// organization owns. The binary exits non-zero on any failure so it can gate
// deployments in a CI/CD step.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/services"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = db.Disconnect(context.Background(), client) }()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		log.Fatalf("Ping failed: %v", err)
	}

	stores := services.NewMongoStores(client.Database(cfg.Database.Name))
	partitions := services.NewPartitionManager(stores.Partitions, cfg.Database.CopyBatchSize)

	fmt.Println("=== ORGANIZATIONS ===")
	orgs, err := stores.Organizations.List(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	owned := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		owned[org.StorageKey] = true
		docs, err := partitions.Count(ctx, org.StorageKey)
		if err != nil {
			log.Printf("Warning: failed to count %s: %v", org.StorageKey, err)
			continue
		}
		fmt.Printf("Organization: %s (partition: %s, documents: %d, admin: %s)\n",
			org.Name, org.StorageKey, docs, org.AdminID.Hex())
	}
	if len(orgs) == 0 {
		fmt.Println("No organizations found!")
	}

	fmt.Println("\n=== ADMINS ===")
	admins, err := stores.Admins.List(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("%d admin records\n", len(admins))

	fmt.Println("\n=== UNOWNED PARTITIONS ===")
	keys, err := partitions.List(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	unowned := 0
	for _, key := range keys {
		if !owned[key] {
			fmt.Printf("Partition: %s\n", key)
			unowned++
		}
	}
	if unowned == 0 {
		fmt.Println("None")
	}
}
