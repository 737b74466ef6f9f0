package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/orgstore/orgstore/internal/db/memory"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/db/repositories"
)

// OrganizationStore is the registry's organization collection.
type OrganizationStore interface {
	FindByName(ctx context.Context, name string) (*models.Organization, error)
	FindByStorageKey(ctx context.Context, key string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
	Rename(ctx context.Context, org *models.Organization, newName, newKey string) (bool, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	List(ctx context.Context) ([]*models.Organization, error)
	Count(ctx context.Context) (int64, error)
}

// AdminStore is the registry's admin collection.
type AdminStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error)
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	Create(ctx context.Context, admin *models.Admin) error
	ReassignOrganization(ctx context.Context, oldName, newName string) (int64, error)
	SetOrganization(ctx context.Context, id primitive.ObjectID, name string) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteByOrganization(ctx context.Context, name string) (int64, error)
	List(ctx context.Context) ([]*models.Admin, error)
}

// PartitionStore performs structural operations on tenant partitions.
type PartitionStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Create(ctx context.Context, key string) (bool, error)
	Drop(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Count(ctx context.Context, key string) (int64, error)
	Stream(ctx context.Context, key string, batchSize int, fn func([]bson.D) error) error
	InsertBatch(ctx context.Context, key string, docs []bson.D) error
}

// Stores bundles the three stores a deployment runs against.
type Stores struct {
	Organizations OrganizationStore
	Admins        AdminStore
	Partitions    PartitionStore
}

// NewMongoStores returns stores backed by the master database.
func NewMongoStores(database *mongo.Database) Stores {
	return Stores{
		Organizations: repositories.NewOrganizationRepository(database),
		Admins:        repositories.NewAdminRepository(database),
		Partitions:    repositories.NewPartitionRepository(database),
	}
}

// NewMemoryStores returns stores backed by an in-process store.
func NewMemoryStores(store *memory.Store) Stores {
	return Stores{
		Organizations: store.Organizations(),
		Admins:        store.Admins(),
		Partitions:    store.Partitions(),
	}
}
