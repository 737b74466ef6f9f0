// Package memory provides an in-process registry and partition store with the
// same semantics as the document store repositories, including unique-index
// enforcement. It backs `database.backend: memory` for local development and is
// the fixture for service and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/db/models"
)

type state struct {
	orgs       map[primitive.ObjectID]models.Organization
	admins     map[primitive.ObjectID]models.Admin
	partitions map[string][]bson.D
}

// Store holds every collection behind a single lock.
type Store struct {
	mu    sync.RWMutex
	state state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: state{
		orgs:       map[primitive.ObjectID]models.Organization{},
		admins:     map[primitive.ObjectID]models.Admin{},
		partitions: map[string][]bson.D{},
	}}
}

// Organizations returns the organization repository view of the store.
func (s *Store) Organizations() *OrganizationRepository { return &OrganizationRepository{s: s} }

// Admins returns the admin repository view of the store.
func (s *Store) Admins() *AdminRepository { return &AdminRepository{s: s} }

// Partitions returns the partition repository view of the store.
func (s *Store) Partitions() *PartitionRepository { return &PartitionRepository{s: s} }

func duplicate(field, value string) error {
	return fmt.Errorf("%w: %s %q already exists", db.ErrDuplicateKey, field, value)
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// OrganizationRepository mirrors repositories.OrganizationRepository.
type OrganizationRepository struct{ s *Store }

// FindByName returns the organization with a case-insensitively equal name, or nil.
func (r *OrganizationRepository) FindByName(_ context.Context, name string) (*models.Organization, error) {
	key := models.NameKey(name)
	return r.find(func(o models.Organization) bool { return o.NameLower == key }), nil
}

// FindByStorageKey returns the organization owning key, or nil.
func (r *OrganizationRepository) FindByStorageKey(_ context.Context, key string) (*models.Organization, error) {
	return r.find(func(o models.Organization) bool { return o.StorageKey == key }), nil
}

func (r *OrganizationRepository) find(match func(models.Organization) bool) *models.Organization {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, o := range r.s.state.orgs {
		if match(o) {
			found := o
			return &found
		}
	}
	return nil
}

// Create inserts org, enforcing unique name_lower and storage_key.
func (r *OrganizationRepository) Create(_ context.Context, org *models.Organization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	nameLower := models.NameKey(org.Name)
	for _, o := range r.s.state.orgs {
		if o.NameLower == nameLower {
			return duplicate("name", org.Name)
		}
		if o.StorageKey == org.StorageKey {
			return duplicate("storage_key", org.StorageKey)
		}
	}

	now := time.Now().UTC()
	if org.ID.IsZero() {
		org.ID = primitive.NewObjectID()
	}
	org.NameLower = nameLower
	org.CreatedAt = now
	org.UpdatedAt = now
	r.s.state.orgs[org.ID] = *org
	return nil
}

// Rename applies the conditional update used by the document store repository.
func (r *OrganizationRepository) Rename(_ context.Context, org *models.Organization, newName, newKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.state.orgs[org.ID]
	if !ok || cur.Name != org.Name || cur.StorageKey != org.StorageKey {
		return false, nil
	}
	nameLower := models.NameKey(newName)
	for id, o := range r.s.state.orgs {
		if id == org.ID {
			continue
		}
		if o.NameLower == nameLower {
			return false, duplicate("name", newName)
		}
		if o.StorageKey == newKey {
			return false, duplicate("storage_key", newKey)
		}
	}

	cur.Name = newName
	cur.NameLower = nameLower
	cur.StorageKey = newKey
	cur.UpdatedAt = time.Now().UTC()
	r.s.state.orgs[org.ID] = cur
	*org = cur
	return true, nil
}

// Delete removes an organization by ID.
func (r *OrganizationRepository) Delete(_ context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.state.orgs, id)
	return nil
}

// List returns all organizations ordered by lowercased name.
func (r *OrganizationRepository) List(_ context.Context) ([]*models.Organization, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*models.Organization, 0, len(r.s.state.orgs))
	for _, o := range r.s.state.orgs {
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameLower < out[j].NameLower })
	return out, nil
}

// Count returns the number of organizations.
func (r *OrganizationRepository) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.state.orgs)), nil
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// AdminRepository mirrors repositories.AdminRepository.
type AdminRepository struct{ s *Store }

// GetByID returns the admin with id, or nil.
func (r *AdminRepository) GetByID(_ context.Context, id primitive.ObjectID) (*models.Admin, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.state.admins[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// GetByEmail returns the admin with email, or nil.
func (r *AdminRepository) GetByEmail(_ context.Context, email string) (*models.Admin, error) {
	email = models.NormalizeEmail(email)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.state.admins {
		if a.Email == email {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

// Create inserts admin, enforcing a unique email.
func (r *AdminRepository) Create(_ context.Context, admin *models.Admin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := models.NormalizeEmail(admin.Email)
	for _, a := range r.s.state.admins {
		if a.Email == email {
			return duplicate("email", email)
		}
	}
	if admin.ID.IsZero() {
		admin.ID = primitive.NewObjectID()
	}
	admin.Email = email
	admin.CreatedAt = time.Now().UTC()
	r.s.state.admins[admin.ID] = *admin
	return nil
}

// ReassignOrganization rewrites the back-reference of every admin pointing at oldName.
func (r *AdminRepository) ReassignOrganization(_ context.Context, oldName, newName string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.state.admins {
		if a.OrganizationName == oldName && oldName != newName {
			a.OrganizationName = newName
			r.s.state.admins[id] = a
			n++
		}
	}
	return n, nil
}

// SetOrganization points one admin at name.
func (r *AdminRepository) SetOrganization(_ context.Context, id primitive.ObjectID, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.state.admins[id]; ok {
		a.OrganizationName = name
		r.s.state.admins[id] = a
	}
	return nil
}

// Delete removes one admin by ID.
func (r *AdminRepository) Delete(_ context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.state.admins, id)
	return nil
}

// DeleteByOrganization removes every admin pointing at name.
func (r *AdminRepository) DeleteByOrganization(_ context.Context, name string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.state.admins {
		if a.OrganizationName == name {
			delete(r.s.state.admins, id)
			n++
		}
	}
	return n, nil
}

// List returns all admins ordered by email.
func (r *AdminRepository) List(_ context.Context) ([]*models.Admin, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*models.Admin, 0, len(r.s.state.admins))
	for _, a := range r.s.state.admins {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// ---------------------------------------------------------------------------
// Partitions
// ---------------------------------------------------------------------------

// PartitionRepository mirrors repositories.PartitionRepository.
type PartitionRepository struct{ s *Store }

// Exists reports whether partition key exists.
func (r *PartitionRepository) Exists(_ context.Context, key string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.state.partitions[key]
	return ok, nil
}

// Create creates an empty partition, reporting false if it already existed.
func (r *PartitionRepository) Create(_ context.Context, key string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.partitions[key]; ok {
		return false, nil
	}
	r.s.state.partitions[key] = []bson.D{}
	return true, nil
}

// Drop removes a partition if present.
func (r *PartitionRepository) Drop(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.state.partitions, key)
	return nil
}

// List returns partition names starting with prefix, sorted.
func (r *PartitionRepository) List(_ context.Context, prefix string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	names := make([]string, 0)
	for k := range r.s.state.partitions {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of documents in a partition.
func (r *PartitionRepository) Count(_ context.Context, key string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.s.state.partitions[key])), nil
}

// Stream hands the partition's documents to fn in batches. The lock is not
// held while fn runs, so fn may write to other partitions.
func (r *PartitionRepository) Stream(ctx context.Context, key string, batchSize int, fn func([]bson.D) error) error {
	if batchSize < 1 {
		return fmt.Errorf("invalid batch size %d", batchSize)
	}
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.s.mu.RLock()
		docs := r.s.state.partitions[key]
		if offset >= len(docs) {
			r.s.mu.RUnlock()
			return nil
		}
		end := offset + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := make([]bson.D, 0, end-offset)
		for _, d := range docs[offset:end] {
			batch = append(batch, cloneDoc(d))
		}
		r.s.mu.RUnlock()

		if err := fn(batch); err != nil {
			return err
		}
	}
}

// InsertBatch appends docs to a partition, creating it if needed and assigning
// an _id to documents without one.
func (r *PartitionRepository) InsertBatch(_ context.Context, key string, docs []bson.D) error {
	if len(docs) == 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range docs {
		d = cloneDoc(d)
		if !hasID(d) {
			d = append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, d...)
		}
		r.s.state.partitions[key] = append(r.s.state.partitions[key], d)
	}
	return nil
}

func hasID(d bson.D) bool {
	for _, e := range d {
		if e.Key == "_id" {
			return true
		}
	}
	return false
}

func cloneDoc(d bson.D) bson.D {
	out := make(bson.D, len(d))
	copy(out, d)
	return out
}
