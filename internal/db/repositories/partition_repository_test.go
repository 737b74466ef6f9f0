package repositories

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const listCollectionsNS = "master_db.$cmd.listCollections"

func collectionEntry(name string) bson.D {
	return bson.D{{Key: "name", Value: name}, {Key: "type", Value: "collection"}}
}

// ---------------------------------------------------------------------------
// Exists / Create / Drop / List
// ---------------------------------------------------------------------------

func TestPartitionExists(t *testing.T) {
	mt := newMock(t)

	mt.Run("present", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch, collectionEntry("org_acme")))
		ok, err := NewPartitionRepository(mt.DB).Exists(context.Background(), "org_acme")
		if err != nil || !ok {
			mt.Errorf("Exists() = %v, %v; want true, nil", ok, err)
		}
	})

	mt.Run("absent", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch))
		ok, err := NewPartitionRepository(mt.DB).Exists(context.Background(), "org_acme")
		if err != nil || ok {
			mt.Errorf("Exists() = %v, %v; want false, nil", ok, err)
		}
	})
}

func TestPartitionCreate(t *testing.T) {
	mt := newMock(t)

	mt.Run("creates when absent", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch),
			mtest.CreateSuccessResponse(),
		)
		created, err := NewPartitionRepository(mt.DB).Create(context.Background(), "org_acme")
		if err != nil {
			mt.Fatalf("Create() error: %v", err)
		}
		if !created {
			mt.Error("Create() = false, want true")
		}
	})

	mt.Run("no-op when present", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch, collectionEntry("org_acme")))
		created, err := NewPartitionRepository(mt.DB).Create(context.Background(), "org_acme")
		if err != nil {
			mt.Fatalf("Create() error: %v", err)
		}
		if created {
			mt.Error("Create() = true, want false for existing partition")
		}
	})

	mt.Run("lost race is not an error", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 48, Name: "NamespaceExists", Message: "exists"}),
		)
		created, err := NewPartitionRepository(mt.DB).Create(context.Background(), "org_acme")
		if err != nil {
			mt.Fatalf("Create() error: %v", err)
		}
		if created {
			mt.Error("Create() = true, want false after NamespaceExists")
		}
	})

	mt.Run("other errors propagate", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Name: "Unauthorized", Message: "no"}),
		)
		if _, err := NewPartitionRepository(mt.DB).Create(context.Background(), "org_acme"); err == nil {
			mt.Error("Create() = nil error, want error")
		}
	})
}

func TestPartitionDrop(t *testing.T) {
	mt := newMock(t)

	mt.Run("success", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		if err := NewPartitionRepository(mt.DB).Drop(context.Background(), "org_acme"); err != nil {
			mt.Errorf("Drop() error: %v", err)
		}
	})

	mt.Run("missing partition is not an error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 26, Name: "NamespaceNotFound", Message: "ns not found"}))
		if err := NewPartitionRepository(mt.DB).Drop(context.Background(), "org_gone"); err != nil {
			mt.Errorf("Drop() error: %v", err)
		}
	})
}

func TestPartitionList(t *testing.T) {
	mt := newMock(t)

	mt.Run("names", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, listCollectionsNS, mtest.FirstBatch,
			collectionEntry("org_acme"), collectionEntry("org_beta")))
		names, err := NewPartitionRepository(mt.DB).List(context.Background(), "org_")
		if err != nil {
			mt.Fatalf("List() error: %v", err)
		}
		if len(names) != 2 || names[0] != "org_acme" {
			mt.Errorf("List() = %v, want [org_acme org_beta]", names)
		}
	})
}

// ---------------------------------------------------------------------------
// Stream / InsertBatch
// ---------------------------------------------------------------------------

func tenantDoc(n int32) bson.D {
	return bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "n", Value: n}}
}

func TestPartitionStream(t *testing.T) {
	mt := newMock(t)

	mt.Run("batches", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "master_db.org_acme", mtest.FirstBatch,
			tenantDoc(1), tenantDoc(2), tenantDoc(3), tenantDoc(4), tenantDoc(5)))

		var sizes []int
		var seen []int32
		err := NewPartitionRepository(mt.DB).Stream(context.Background(), "org_acme", 2, func(batch []bson.D) error {
			sizes = append(sizes, len(batch))
			for _, d := range batch {
				seen = append(seen, d.Map()["n"].(int32))
			}
			return nil
		})
		if err != nil {
			mt.Fatalf("Stream() error: %v", err)
		}
		if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
			mt.Errorf("batch sizes = %v, want [2 2 1]", sizes)
		}
		if len(seen) != 5 || seen[0] != 1 || seen[4] != 5 {
			mt.Errorf("documents = %v, want 1..5 in order", seen)
		}
	})

	mt.Run("empty partition", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "master_db.org_acme", mtest.FirstBatch))
		calls := 0
		err := NewPartitionRepository(mt.DB).Stream(context.Background(), "org_acme", 500, func([]bson.D) error {
			calls++
			return nil
		})
		if err != nil {
			mt.Fatalf("Stream() error: %v", err)
		}
		if calls != 0 {
			mt.Errorf("callback invoked %d times for empty partition", calls)
		}
	})

	mt.Run("callback error stops stream", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "master_db.org_acme", mtest.FirstBatch,
			tenantDoc(1), tenantDoc(2)))
		boom := errors.New("boom")
		err := NewPartitionRepository(mt.DB).Stream(context.Background(), "org_acme", 1, func([]bson.D) error {
			return boom
		})
		if !errors.Is(err, boom) {
			mt.Errorf("Stream() = %v, want boom", err)
		}
	})

	mt.Run("invalid batch size", func(mt *mtest.T) {
		for _, size := range []int{0, -1, math.MaxInt32 + 1} {
			err := NewPartitionRepository(mt.DB).Stream(context.Background(), "org_acme", size, func([]bson.D) error { return nil })
			if err == nil {
				mt.Errorf("Stream() = nil error, want error for batch size %d", size)
			}
		}
	})
}

func TestPartitionInsertBatch(t *testing.T) {
	mt := newMock(t)

	mt.Run("success", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))
		docs := []bson.D{{{Key: "a", Value: 1}}, {{Key: "a", Value: 2}}}
		if err := NewPartitionRepository(mt.DB).InsertBatch(context.Background(), "org_acme2", docs); err != nil {
			mt.Errorf("InsertBatch() error: %v", err)
		}
	})

	mt.Run("unordered insert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		docs := []bson.D{{{Key: "a", Value: 1}}}
		if err := NewPartitionRepository(mt.DB).InsertBatch(context.Background(), "org_acme2", docs); err != nil {
			mt.Fatalf("InsertBatch() error: %v", err)
		}
		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "insert" {
			mt.Fatalf("started event = %v, want insert", evt)
		}
		ordered, ok := evt.Command.Lookup("ordered").BooleanOK()
		if !ok || ordered {
			mt.Errorf("insert ordered = %v (present %v), want false", ordered, ok)
		}
	})

	mt.Run("empty batch is a no-op", func(mt *mtest.T) {
		if err := NewPartitionRepository(mt.DB).InsertBatch(context.Background(), "org_acme2", nil); err != nil {
			mt.Errorf("InsertBatch(nil) error: %v", err)
		}
	})
}
