package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/orgstore/orgstore/internal/db/memory"
	"github.com/orgstore/orgstore/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers shared by the service tests
// ---------------------------------------------------------------------------

var errInjected = errors.New("injected failure")

type fixture struct {
	store      *memory.Store
	stores     Stores
	partitions *PartitionManager
	svc        *LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(Stores) Stores { return Stores{} }, nil)
}

// newFixtureWith builds a fixture whose stores may be partly replaced by wrap.
// Nil fields in the returned Stores keep the in-memory default.
func newFixtureWith(t *testing.T, wrap func(Stores) Stores, archiver PartitionArchiver) *fixture {
	t.Helper()
	store := memory.New()
	stores := NewMemoryStores(store)
	override := wrap(stores)
	if override.Organizations != nil {
		stores.Organizations = override.Organizations
	}
	if override.Admins != nil {
		stores.Admins = override.Admins
	}
	if override.Partitions != nil {
		stores.Partitions = override.Partitions
	}
	partitions := NewPartitionManager(stores.Partitions, 500)
	return &fixture{
		store:      store,
		stores:     stores,
		partitions: partitions,
		svc:        NewLifecycleService(stores, partitions, archiver),
	}
}

func (f *fixture) create(t *testing.T, name, email string) *OrganizationInfo {
	t.Helper()
	info, err := f.svc.CreateOrganization(context.Background(), name, email, "secret123")
	require.NoError(t, err)
	return info
}

func (f *fixture) seed(t *testing.T, key string, n int) {
	t.Helper()
	docs := make([]bson.D, n)
	for i := range docs {
		docs[i] = bson.D{{Key: "n", Value: i}, {Key: "label", Value: fmt.Sprintf("doc-%d", i)}}
	}
	require.NoError(t, f.stores.Partitions.InsertBatch(context.Background(), key, docs))
}

func (f *fixture) count(t *testing.T, key string) int64 {
	t.Helper()
	n, err := f.stores.Partitions.Count(context.Background(), key)
	require.NoError(t, err)
	return n
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.stores.Partitions.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

// failingOrgs fails the selected organization writes.
type failingOrgs struct {
	OrganizationStore
	failCreate bool
	loseRename bool
}

func (f *failingOrgs) Create(ctx context.Context, org *models.Organization) error {
	if f.failCreate {
		return errInjected
	}
	return f.OrganizationStore.Create(ctx, org)
}

func (f *failingOrgs) Rename(ctx context.Context, org *models.Organization, newName, newKey string) (bool, error) {
	if f.loseRename {
		return false, nil
	}
	return f.OrganizationStore.Rename(ctx, org, newName, newKey)
}

// failingPartitions fails inserts into one partition after allowing some batches.
type failingPartitions struct {
	PartitionStore
	key          string
	allowBatches int
}

func (f *failingPartitions) InsertBatch(ctx context.Context, key string, docs []bson.D) error {
	if key == f.key {
		if f.allowBatches == 0 {
			return errInjected
		}
		f.allowBatches--
	}
	return f.PartitionStore.InsertBatch(ctx, key, docs)
}

// droppingPartitions drops key once, just before the given insert batch into
// it, the way an orphan sweep would.
type droppingPartitions struct {
	PartitionStore
	key     string
	dropAt  int
	batches int
}

func (d *droppingPartitions) InsertBatch(ctx context.Context, key string, docs []bson.D) error {
	if key == d.key {
		d.batches++
		if d.batches == d.dropAt {
			if err := d.PartitionStore.Drop(ctx, key); err != nil {
				return err
			}
		}
	}
	return d.PartitionStore.InsertBatch(ctx, key, docs)
}

// failingAdmins fails back-reference rewrites.
type failingAdmins struct {
	AdminStore
}

func (f *failingAdmins) ReassignOrganization(context.Context, string, string) (int64, error) {
	return 0, errInjected
}
