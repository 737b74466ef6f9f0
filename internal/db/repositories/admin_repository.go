// admin_repository.go implements AdminRepository over the admins registry collection.
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

// AdminRepository handles database operations for organization admins
type AdminRepository struct {
	coll *mongo.Collection
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(database *mongo.Database) *AdminRepository {
	return &AdminRepository{coll: database.Collection(db.AdminsCollection)}
}

// GetByID retrieves an admin by ID. Returns (nil, nil) if not found.
func (r *AdminRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// GetByEmail retrieves an admin by email. Returns (nil, nil) if not found.
func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: models.NormalizeEmail(email)}})
}

func (r *AdminRepository) findOne(ctx context.Context, filter bson.D) (*models.Admin, error) {
	admin := &models.Admin{}
	if err := r.coll.FindOne(ctx, filter).Decode(admin); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return admin, nil
}

// Create inserts a new admin and sets its ID. A taken email yields db.ErrDuplicateKey.
func (r *AdminRepository) Create(ctx context.Context, admin *models.Admin) error {
	admin.Email = models.NormalizeEmail(admin.Email)
	admin.CreatedAt = time.Now().UTC()
	if admin.ID.IsZero() {
		admin.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin: %w", db.TranslateError(err))
	}
	return nil
}

// ReassignOrganization rewrites the back-reference on every admin pointing at
// oldName and returns how many were changed.
func (r *AdminRepository) ReassignOrganization(ctx context.Context, oldName, newName string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.D{{Key: "organization_name", Value: oldName}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "organization_name", Value: newName}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign admins: %w", err)
	}
	return res.ModifiedCount, nil
}

// SetOrganization points a single admin at name.
func (r *AdminRepository) SetOrganization(ctx context.Context, id primitive.ObjectID, name string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "organization_name", Value: name}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update admin organization: %w", err)
	}
	return nil
}

// Delete removes one admin by ID.
func (r *AdminRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	return nil
}

// DeleteByOrganization removes every admin whose back-reference equals name.
func (r *AdminRepository) DeleteByOrganization(ctx context.Context, name string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "organization_name", Value: name}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete admins: %w", err)
	}
	return res.DeletedCount, nil
}

// List returns all admins ordered by email.
func (r *AdminRepository) List(ctx context.Context) ([]*models.Admin, error) {
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}

	admins := make([]*models.Admin, 0)
	if err := cur.All(ctx, &admins); err != nil {
		return nil, fmt.Errorf("failed to decode admins: %w", err)
	}
	return admins, nil
}
