package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/orgstore/orgstore/internal/naming"
)

// DefaultCopyBatchSize is used when no batch size is configured.
const DefaultCopyBatchSize = 500

// PartitionManager creates, copies and drops tenant partitions.
type PartitionManager struct {
	store     PartitionStore
	batchSize int
}

// NewPartitionManager creates a partition manager copying batchSize documents
// at a time. A non-positive batchSize selects DefaultCopyBatchSize.
func NewPartitionManager(store PartitionStore, batchSize int) *PartitionManager {
	if batchSize < 1 {
		batchSize = DefaultCopyBatchSize
	}
	return &PartitionManager{store: store, batchSize: batchSize}
}

// BatchSize returns the copy batch size.
func (m *PartitionManager) BatchSize() int { return m.batchSize }

// Exists reports whether the partition exists.
func (m *PartitionManager) Exists(ctx context.Context, key string) (bool, error) {
	return m.store.Exists(ctx, key)
}

// CreateEmpty creates the partition if it is missing and reports whether this
// call created it.
func (m *PartitionManager) CreateEmpty(ctx context.Context, key string) (bool, error) {
	return m.store.Create(ctx, key)
}

// CopyAll streams every document of from into to and returns how many were
// written. The _id of each document is dropped so the destination assigns a
// fresh one; everything else is copied verbatim.
func (m *PartitionManager) CopyAll(ctx context.Context, from, to string) (int64, error) {
	var moved int64
	err := m.store.Stream(ctx, from, m.batchSize, func(batch []bson.D) error {
		out := make([]bson.D, len(batch))
		for i, doc := range batch {
			out[i] = withoutID(doc)
		}
		if err := m.store.InsertBatch(ctx, to, out); err != nil {
			return err
		}
		moved += int64(len(out))
		return nil
	})
	if err != nil {
		return moved, fmt.Errorf("failed to copy %s to %s after %d documents: %w", from, to, moved, err)
	}
	return moved, nil
}

// Drop removes the partition. Dropping a missing partition is not an error.
func (m *PartitionManager) Drop(ctx context.Context, key string) error {
	return m.store.Drop(ctx, key)
}

// Count returns the number of documents in the partition.
func (m *PartitionManager) Count(ctx context.Context, key string) (int64, error) {
	return m.store.Count(ctx, key)
}

// List returns every tenant partition name.
func (m *PartitionManager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx, naming.Prefix)
}

// Stream hands the partition's documents to fn in batches of BatchSize.
func (m *PartitionManager) Stream(ctx context.Context, key string, fn func([]bson.D) error) error {
	return m.store.Stream(ctx, key, m.batchSize, fn)
}

func withoutID(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	return out
}
