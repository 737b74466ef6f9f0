// organization_repository.go implements OrganizationRepository, providing document
// store queries for the organizations registry collection.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	coll *mongo.Collection
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(database *mongo.Database) *OrganizationRepository {
	return &OrganizationRepository{coll: database.Collection(db.OrganizationsCollection)}
}

// FindByName retrieves an organization by display name, ignoring case.
// Returns (nil, nil) when no organization matches.
func (r *OrganizationRepository) FindByName(ctx context.Context, name string) (*models.Organization, error) {
	return r.findOne(ctx, bson.D{{Key: "name_lower", Value: models.NameKey(name)}})
}

// FindByStorageKey retrieves the organization owning a partition.
func (r *OrganizationRepository) FindByStorageKey(ctx context.Context, key string) (*models.Organization, error) {
	return r.findOne(ctx, bson.D{{Key: "storage_key", Value: key}})
}

func (r *OrganizationRepository) findOne(ctx context.Context, filter bson.D) (*models.Organization, error) {
	org := &models.Organization{}
	err := r.coll.FindOne(ctx, filter).Decode(org)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Create inserts a new organization and sets its ID. It fails with
// db.ErrDuplicateKey when the name or storage key is already taken.
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now().UTC()
	org.NameLower = models.NameKey(org.Name)
	org.CreatedAt = now
	org.UpdatedAt = now
	if org.ID.IsZero() {
		org.ID = primitive.NewObjectID()
	}

	if _, err := r.coll.InsertOne(ctx, org); err != nil {
		return fmt.Errorf("failed to create organization: %w", db.TranslateError(err))
	}
	return nil
}

// Rename moves org to newName/newKey only if the stored record still carries
// the name and storage key held in org. It reports false when another writer
// changed or removed the record first. On success org is updated in place.
func (r *OrganizationRepository) Rename(ctx context.Context, org *models.Organization, newName, newKey string) (bool, error) {
	now := time.Now().UTC()
	filter := bson.D{
		{Key: "_id", Value: org.ID},
		{Key: "name", Value: org.Name},
		{Key: "storage_key", Value: org.StorageKey},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "name", Value: newName},
		{Key: "name_lower", Value: models.NameKey(newName)},
		{Key: "storage_key", Value: newKey},
		{Key: "updated_at", Value: now},
	}}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to rename organization: %w", db.TranslateError(err))
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	org.Name = newName
	org.NameLower = models.NameKey(newName)
	org.StorageKey = newKey
	org.UpdatedAt = now
	return true, nil
}

// Delete removes an organization by ID. Deleting a missing record is not an error.
func (r *OrganizationRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return nil
}

// List returns every organization ordered by name.
func (r *OrganizationRepository) List(ctx context.Context) ([]*models.Organization, error) {
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name_lower", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer cur.Close(ctx)

	orgs := make([]*models.Organization, 0)
	for cur.Next(ctx) {
		org := &models.Organization{}
		if err := cur.Decode(org); err != nil {
			return nil, fmt.Errorf("failed to decode organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return orgs, nil
}

// Count returns the number of organizations.
func (r *OrganizationRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count organizations: %w", err)
	}
	return n, nil
}
