package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orgstore/orgstore/internal/db/memory"
)

// countingPartitions records the size of every inserted batch.
type countingPartitions struct {
	PartitionStore
	batches []int
}

func (c *countingPartitions) InsertBatch(ctx context.Context, key string, docs []bson.D) error {
	c.batches = append(c.batches, len(docs))
	return c.PartitionStore.InsertBatch(ctx, key, docs)
}

func TestNewPartitionManager_DefaultBatchSize(t *testing.T) {
	m := NewPartitionManager(memory.New().Partitions(), 0)
	assert.Equal(t, DefaultCopyBatchSize, m.BatchSize())
}

func TestCopyAll_BatchesAndStripsIDs(t *testing.T) {
	ctx := context.Background()
	store := &countingPartitions{PartitionStore: memory.New().Partitions()}
	m := NewPartitionManager(store, 2)

	src := []bson.D{
		{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "v", Value: 1}},
		{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "v", Value: 2}},
		{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "v", Value: 3}},
	}
	require.NoError(t, store.PartitionStore.InsertBatch(ctx, "org_src", src))

	moved, err := m.CopyAll(ctx, "org_src", "org_dst")
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)
	assert.Equal(t, []int{2, 1}, store.batches)

	var copied []bson.D
	require.NoError(t, m.Stream(ctx, "org_dst", func(batch []bson.D) error {
		copied = append(copied, batch...)
		return nil
	}))
	require.Len(t, copied, 3)
	for i, doc := range copied {
		fields := doc.Map()
		assert.Equal(t, i+1, fields["v"])
		assert.NotEqual(t, src[i].Map()["_id"], fields["_id"], "destination should assign a fresh _id")
	}

	n, err := m.Count(ctx, "org_src")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "source is left untouched")
}

func TestCopyAll_EmptySource(t *testing.T) {
	m := NewPartitionManager(memory.New().Partitions(), 10)
	moved, err := m.CopyAll(context.Background(), "org_missing", "org_dst")
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestPartitionManager_CreateDropList(t *testing.T) {
	ctx := context.Background()
	m := NewPartitionManager(memory.New().Partitions(), 10)

	created, err := m.CreateEmpty(ctx, "org_a")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = m.CreateEmpty(ctx, "org_a")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = m.CreateEmpty(ctx, "scratch")
	require.NoError(t, err)

	names, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org_a"}, names)

	require.NoError(t, m.Drop(ctx, "org_a"))
	require.NoError(t, m.Drop(ctx, "org_a"))
	ok, err := m.Exists(ctx, "org_a")
	require.NoError(t, err)
	assert.False(t, ok)
}
