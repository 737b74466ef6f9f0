// Package services implements the organization lifecycle on top of the
// registry and partition stores. Every operation is a sequence of individual
// store writes; when a step fails the writes already made by the same call are
// undone where that is safe, and the reconciler repairs whatever is left.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/naming"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// OrganizationInfo is returned by create and get.
type OrganizationInfo struct {
	Name       string `json:"name"`
	StorageKey string `json:"storage_key"`
	AdminEmail string `json:"admin_email"`
}

// RenameResult is returned by a successful rename.
type RenameResult struct {
	OldName       string `json:"old_name"`
	NewName       string `json:"new_name"`
	NewStorageKey string `json:"new_storage_key"`
	MovedCount    int64  `json:"moved_count"`
}

// DeleteResult is returned by a successful delete.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Name    string `json:"name"`
}

// LifecycleService creates, reads, renames and deletes organizations.
type LifecycleService struct {
	orgs       OrganizationStore
	admins     AdminStore
	partitions *PartitionManager
	archiver   PartitionArchiver
}

// NewLifecycleService creates a lifecycle service. archiver may be nil, in
// which case deleted partitions are not exported.
func NewLifecycleService(stores Stores, partitions *PartitionManager, archiver PartitionArchiver) *LifecycleService {
	return &LifecycleService{
		orgs:       stores.Organizations,
		admins:     stores.Admins,
		partitions: partitions,
		archiver:   archiver,
	}
}

// CreateOrganization registers a new organization with its admin and an empty
// partition.
func (s *LifecycleService) CreateOrganization(ctx context.Context, name, email, password string) (info *OrganizationInfo, err error) {
	defer func() { observe("create", err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}

	existing, err := s.orgs.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: organization %q already exists", ErrConflict, existing.Name)
	}

	key := naming.Normalize(name)
	holder, err := s.orgs.FindByStorageKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return nil, fmt.Errorf("%w: storage key %q is already used by organization %q", ErrConflict, key, holder.Name)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	created, err := s.partitions.CreateEmpty(ctx, key)
	if err != nil {
		return nil, err
	}

	// Compensation must run even when the request context is gone.
	cleanup := context.WithoutCancel(ctx)

	admin := &models.Admin{Email: email, PasswordHash: hash, OrganizationName: name}
	if err := s.admins.Create(ctx, admin); err != nil {
		s.discardPartition(cleanup, key, created)
		if errors.Is(err, db.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: admin email %q is already registered", ErrConflict, models.NormalizeEmail(email))
		}
		return nil, err
	}

	org := &models.Organization{Name: name, StorageKey: key, AdminID: admin.ID}
	if err := s.orgs.Create(ctx, org); err != nil {
		if derr := s.admins.Delete(cleanup, admin.ID); derr != nil {
			slog.Error("failed to remove admin after organization insert failed",
				"admin_id", admin.ID.Hex(), "error", derr)
		}
		s.discardPartition(cleanup, key, created)
		if errors.Is(err, db.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: organization %q already exists", ErrConflict, name)
		}
		return nil, err
	}

	slog.Info("organization created", "organization", org.Name, "storage_key", key, "admin_id", admin.ID.Hex())
	return &OrganizationInfo{Name: org.Name, StorageKey: key, AdminEmail: admin.Email}, nil
}

// GetOrganization looks up an organization by name, ignoring case.
func (s *LifecycleService) GetOrganization(ctx context.Context, name string) (info *OrganizationInfo, err error) {
	defer func() { observe("get", err) }()

	org, err := s.orgs.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("%w: organization %q not found", ErrNotFound, name)
	}

	info = &OrganizationInfo{Name: org.Name, StorageKey: org.StorageKey}
	admin, err := s.admins.GetByID(ctx, org.AdminID)
	if err != nil {
		return nil, err
	}
	if admin != nil {
		info.AdminEmail = admin.Email
	}
	return info, nil
}

// RenameOrganization gives an organization a new display name. The partition
// is copied to the new name's storage key and the old one dropped once the
// registry points at the copy. A new name that maps to the current storage key,
// such as a case-only change, is rejected as a conflict.
func (s *LifecycleService) RenameOrganization(ctx context.Context, currentName, newName string) (res *RenameResult, err error) {
	defer func() { observe("rename", err) }()

	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("%w: new organization name is required", ErrInvalidInput)
	}

	org, err := s.orgs.FindByName(ctx, currentName)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("%w: organization %q not found", ErrNotFound, currentName)
	}

	other, err := s.orgs.FindByName(ctx, newName)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != org.ID {
		return nil, fmt.Errorf("%w: organization %q already exists", ErrConflict, other.Name)
	}

	oldName, oldKey := org.Name, org.StorageKey
	newKey := naming.Normalize(newName)

	// A name that normalizes to the current key would copy the partition onto
	// itself; the partition at newKey already exists, so this is a conflict
	// like any other existing partition.
	if newKey == oldKey {
		return nil, fmt.Errorf("%w: partition %q already exists", ErrConflict, newKey)
	}

	holder, err := s.orgs.FindByStorageKey(ctx, newKey)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return nil, fmt.Errorf("%w: storage key %q is already used by organization %q", ErrConflict, newKey, holder.Name)
	}
	exists, err := s.partitions.Exists(ctx, newKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: partition %q already exists", ErrConflict, newKey)
	}

	created, err := s.partitions.CreateEmpty(ctx, newKey)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: partition %q was created concurrently", ErrConflict, newKey)
	}

	cleanup := context.WithoutCancel(ctx)

	started := time.Now()
	moved, err := s.partitions.CopyAll(ctx, oldKey, newKey)
	if err != nil {
		s.discardPartition(cleanup, newKey, true)
		return nil, err
	}
	telemetry.PartitionCopyDuration.Observe(time.Since(started).Seconds())

	// The new partition is unregistered until the swap, so a reconcile pass can
	// take it for an orphan and drop it mid-copy. Later batches then recreate
	// it with only part of the data.
	landed, err := s.partitions.Count(ctx, newKey)
	if err != nil {
		s.discardPartition(cleanup, newKey, true)
		return nil, err
	}
	if landed != moved {
		s.discardPartition(cleanup, newKey, true)
		return nil, fmt.Errorf("copy into partition %q incomplete: %d of %d documents present", newKey, landed, moved)
	}

	if err := s.swapRegistry(ctx, org, newName, newKey); err != nil {
		s.discardPartition(cleanup, newKey, true)
		return nil, err
	}
	telemetry.DocumentsMovedTotal.Add(float64(moved))

	// The registry now points at newKey. Failures past this point leave
	// stale admins or an orphaned partition for the reconciler.
	if err := s.reassignAdmins(ctx, oldName, newName); err != nil {
		return nil, err
	}
	if err := s.partitions.Drop(ctx, oldKey); err != nil {
		return nil, fmt.Errorf("renamed %q but failed to drop old partition: %w", newName, err)
	}

	slog.Info("organization renamed",
		"old_name", oldName, "new_name", newName,
		"old_storage_key", oldKey, "new_storage_key", newKey,
		"moved", moved)
	return &RenameResult{OldName: oldName, NewName: newName, NewStorageKey: newKey, MovedCount: moved}, nil
}

// DeleteOrganization removes an organization, its admins and its partition.
// With an archiver configured the partition is exported first and a failed
// export leaves everything in place.
func (s *LifecycleService) DeleteOrganization(ctx context.Context, name string) (res *DeleteResult, err error) {
	defer func() { observe("delete", err) }()

	org, err := s.orgs.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("%w: organization %q not found", ErrNotFound, name)
	}

	if s.archiver != nil {
		exists, err := s.partitions.Exists(ctx, org.StorageKey)
		if err != nil {
			return nil, err
		}
		if exists {
			if _, err := s.archiver.Archive(ctx, org.StorageKey); err != nil {
				return nil, err
			}
		}
	}

	if err := s.partitions.Drop(ctx, org.StorageKey); err != nil {
		return nil, err
	}
	removed, err := s.admins.DeleteByOrganization(ctx, org.Name)
	if err != nil {
		return nil, err
	}
	if err := s.admins.Delete(ctx, org.AdminID); err != nil {
		return nil, err
	}
	if err := s.orgs.Delete(ctx, org.ID); err != nil {
		return nil, err
	}

	slog.Info("organization deleted", "organization", org.Name, "storage_key", org.StorageKey, "admins_removed", removed)
	return &DeleteResult{Deleted: true, Name: org.Name}, nil
}

// swapRegistry applies the conditional rename and turns a lost race or a
// unique index violation into ErrConflict.
func (s *LifecycleService) swapRegistry(ctx context.Context, org *models.Organization, newName, newKey string) error {
	ok, err := s.orgs.Rename(ctx, org, newName, newKey)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			return fmt.Errorf("%w: organization %q already exists", ErrConflict, newName)
		}
		return err
	}
	if !ok {
		return fmt.Errorf("%w: organization %q was modified concurrently", ErrConflict, org.Name)
	}
	return nil
}

func (s *LifecycleService) reassignAdmins(ctx context.Context, oldName, newName string) error {
	if _, err := s.admins.ReassignOrganization(ctx, oldName, newName); err != nil {
		return fmt.Errorf("renamed %q but failed to update its admins: %w", newName, err)
	}
	return nil
}

// discardPartition drops key if this call created it.
func (s *LifecycleService) discardPartition(ctx context.Context, key string, created bool) {
	if !created {
		return
	}
	if err := s.partitions.Drop(ctx, key); err != nil {
		slog.Error("failed to drop partition during compensation", "storage_key", key, "error", err)
	}
}

func observe(operation string, err error) {
	telemetry.OrganizationOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
