// partition_repository.go implements PartitionRepository. A tenant partition is a
// collection in the master database whose name is the tenant's storage key.
// Its documents are handled as bson.D and never interpreted.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// namespaceExists is the server error code for creating a collection that already exists.
const namespaceExists = 48

// PartitionRepository performs structural operations on tenant partitions.
type PartitionRepository struct {
	database *mongo.Database
}

// NewPartitionRepository creates a new partition repository
func NewPartitionRepository(database *mongo.Database) *PartitionRepository {
	return &PartitionRepository{database: database}
}

// Exists reports whether a partition named key exists.
func (r *PartitionRepository) Exists(ctx context.Context, key string) (bool, error) {
	names, err := r.database.ListCollectionNames(ctx, bson.D{{Key: "name", Value: key}})
	if err != nil {
		return false, fmt.Errorf("failed to check partition %s: %w", key, err)
	}
	return len(names) > 0, nil
}

// Create creates an empty partition. It reports false without error when the
// partition was already present, including when a concurrent caller won the race.
func (r *PartitionRepository) Create(ctx context.Context, key string) (bool, error) {
	exists, err := r.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := r.database.CreateCollection(ctx, key); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create partition %s: %w", key, err)
	}
	return true, nil
}

// Drop removes a partition. Dropping a missing partition is not an error.
func (r *PartitionRepository) Drop(ctx context.Context, key string) error {
	if err := r.database.Collection(key).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", key, err)
	}
	return nil
}

// List returns the names of all collections starting with prefix.
func (r *PartitionRepository) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	names, err := r.database.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return names, nil
}

// Count returns the number of documents in a partition.
func (r *PartitionRepository) Count(ctx context.Context, key string) (int64, error) {
	n, err := r.database.Collection(key).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count partition %s: %w", key, err)
	}
	return n, nil
}

// Stream reads every document of a partition in _id order and hands them to fn
// in slices of at most batchSize. The slice passed to fn is not reused.
func (r *PartitionRepository) Stream(ctx context.Context, key string, batchSize int, fn func([]bson.D) error) error {
	if batchSize < 1 || batchSize > math.MaxInt32 {
		return fmt.Errorf("invalid batch size %d", batchSize)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(int32(batchSize))
	cur, err := r.database.Collection(key).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("failed to read partition %s: %w", key, err)
	}
	defer cur.Close(ctx)

	batch := make([]bson.D, 0, batchSize)
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode document in %s: %w", key, err)
		}
		batch = append(batch, doc)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]bson.D, 0, batchSize)
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("failed to iterate partition %s: %w", key, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// InsertBatch writes docs into a partition with an unordered InsertMany, so one
// rejected document does not stop the rest of the batch. Documents without an
// _id get one assigned by the driver.
func (r *PartitionRepository) InsertBatch(ctx context.Context, key string, docs []bson.D) error {
	if len(docs) == 0 {
		return nil
	}
	payload := make([]interface{}, len(docs))
	for i, d := range docs {
		payload[i] = d
	}
	if _, err := r.database.Collection(key).InsertMany(ctx, payload, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to insert into partition %s: %w", key, err)
	}
	return nil
}
