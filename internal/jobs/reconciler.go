// reconciler.go implements the Reconciler background job, which repairs the
// registry after a create, rename or delete was interrupted part way. Orgs
// and admins are written without cross-document transactions, so a crash or a
// failed compensation can leave stale admin back-references, admins without an
// organization, or partitions no organization owns.
//
// Orphans are only removed once they have been seen orphaned for longer than
// the grace period. A partition that a create is about to register looks
// exactly like an orphan for a few milliseconds.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/safego"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/telemetry"
)

const (
	defaultReconcileInterval = 15 * time.Minute
	defaultGracePeriod       = time.Hour
)

// Repair actions, used as the reconcile_actions_total label.
const (
	ActionAdminRepaired    = "admin_repaired"
	ActionPartitionDropped = "partition_dropped"
	ActionAdminDeleted     = "admin_deleted"
)

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	AdminsRepaired    int      `json:"admins_repaired"`
	PartitionsDropped []string `json:"partitions_dropped"`
	AdminsDeleted     int      `json:"admins_deleted"`
	// PendingOrphans counts orphans still inside the grace period.
	PendingOrphans int `json:"pending_orphans"`
}

// Reconciler periodically brings admins and partitions back in line with the
// organization registry.
type Reconciler struct {
	orgs       services.OrganizationStore
	admins     services.AdminStore
	partitions *services.PartitionManager
	archiver   services.PartitionArchiver
	auditor    audit.Shipper
	interval   time.Duration
	grace      time.Duration
	now        func() time.Time

	mu        sync.Mutex
	firstSeen map[string]time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewReconciler creates a new Reconciler. archiver may be nil, in which case
// orphan partitions are dropped without an export.
func NewReconciler(
	stores services.Stores,
	partitions *services.PartitionManager,
	archiver services.PartitionArchiver,
	auditor audit.Shipper,
	cfg *config.ReconcileConfig,
) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	if auditor == nil {
		auditor = audit.Discard
	}
	return &Reconciler{
		orgs:       stores.Organizations,
		admins:     stores.Admins,
		partitions: partitions,
		archiver:   archiver,
		auditor:    auditor,
		interval:   interval,
		grace:      grace,
		now:        time.Now,
		firstSeen:  make(map[string]time.Time),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval, in the
// background, until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.started = true
	slog.Info("reconciler started", "interval", r.interval, "grace_period", r.grace)

	safego.Go("reconciler", func() {
		defer close(r.doneChan)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.runPass(ctx)
		for {
			select {
			case <-ticker.C:
				r.runPass(ctx)
			case <-r.stopChan:
				slog.Info("reconciler stopped")
				return
			case <-ctx.Done():
				slog.Info("reconciler context cancelled")
				return
			}
		}
	})
}

// Stop signals the loop to exit and waits for an in-flight pass to finish.
// It is safe to call more than once, and before Start.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	if r.started {
		<-r.doneChan
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	report, err := r.RunOnce(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("reconcile pass failed", "error", err)
		}
		return
	}
	if report.AdminsRepaired+len(report.PartitionsDropped)+report.AdminsDeleted > 0 {
		slog.Info("reconcile pass applied repairs",
			"admins_repaired", report.AdminsRepaired,
			"partitions_dropped", len(report.PartitionsDropped),
			"admins_deleted", report.AdminsDeleted,
		)
	}
}

// RunOnce performs a single pass. With force set the grace period is ignored
// and every orphan found is removed immediately.
func (r *Reconciler) RunOnce(ctx context.Context, force bool) (*ReconcileReport, error) {
	start := time.Now()
	defer func() {
		telemetry.ReconcileRunDuration.Observe(time.Since(start).Seconds())
	}()

	orgs, err := r.orgs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	admins, err := r.admins.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	partitions, err := r.partitions.List(ctx)
	if err != nil {
		return nil, err
	}

	byAdmin := make(map[string]*models.Organization, len(orgs))
	names := make(map[string]bool, len(orgs))
	keys := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		byAdmin[org.AdminID.Hex()] = org
		names[models.NameKey(org.Name)] = true
		keys[org.StorageKey] = true
	}

	now := r.now()
	report := &ReconcileReport{PartitionsDropped: make([]string, 0)}
	orphans := make(map[string]bool)

	for _, admin := range admins {
		if org, ok := byAdmin[admin.ID.Hex()]; ok {
			if admin.OrganizationName == org.Name {
				continue
			}
			if err := r.admins.SetOrganization(ctx, admin.ID, org.Name); err != nil {
				return report, err
			}
			report.AdminsRepaired++
			r.record(ctx, ActionAdminRepaired, org.Name, org.StorageKey, map[string]interface{}{
				"admin_id":      admin.ID.Hex(),
				"previous_name": admin.OrganizationName,
			})
			continue
		}
		if names[models.NameKey(admin.OrganizationName)] {
			continue
		}

		id := "admin:" + admin.ID.Hex()
		orphans[id] = true
		if !r.expired(id, now, force) {
			report.PendingOrphans++
			continue
		}
		if err := r.admins.Delete(ctx, admin.ID); err != nil {
			return report, err
		}
		r.forget(id)
		report.AdminsDeleted++
		r.record(ctx, ActionAdminDeleted, admin.OrganizationName, "", map[string]interface{}{
			"admin_id": admin.ID.Hex(),
		})
	}

	for _, key := range partitions {
		if keys[key] {
			continue
		}

		id := "partition:" + key
		orphans[id] = true
		if !r.expired(id, now, force) {
			report.PendingOrphans++
			continue
		}
		// A rename may have registered the key since the listing was taken.
		owner, err := r.orgs.FindByStorageKey(ctx, key)
		if err != nil {
			return report, err
		}
		if owner != nil {
			r.forget(id)
			delete(orphans, id)
			continue
		}
		if err := r.dropOrphan(ctx, key); err != nil {
			return report, err
		}
		r.forget(id)
		report.PartitionsDropped = append(report.PartitionsDropped, key)
		r.record(ctx, ActionPartitionDropped, "", key, nil)
	}

	r.prune(orphans)
	return report, nil
}

func (r *Reconciler) dropOrphan(ctx context.Context, key string) error {
	if r.archiver != nil {
		if _, err := r.archiver.Archive(ctx, key); err != nil {
			return fmt.Errorf("failed to archive orphan partition %s: %w", key, err)
		}
	}
	return r.partitions.Drop(ctx, key)
}

// expired records the first sighting of an orphan and reports whether it has
// outlived the grace period.
func (r *Reconciler) expired(id string, now time.Time, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.firstSeen[id]
	if !ok {
		r.firstSeen[id] = now
		seen = now
	}
	return force || (ok && now.Sub(seen) >= r.grace)
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.firstSeen, id)
	r.mu.Unlock()
}

// prune drops sightings of things that are no longer orphaned.
func (r *Reconciler) prune(current map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.firstSeen {
		if !current[id] {
			delete(r.firstSeen, id)
		}
	}
}

func (r *Reconciler) record(ctx context.Context, action, organization, storageKey string, metadata map[string]interface{}) {
	telemetry.ReconcileActionsTotal.WithLabelValues(action).Inc()
	slog.Warn("reconciler repair", "action", action, "organization", organization, "storage_key", storageKey)

	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["repair"] = action
	entry := &audit.LogEntry{
		Timestamp:    r.now().UTC(),
		Action:       audit.ActionReconcileRepair,
		Organization: organization,
		StorageKey:   storageKey,
		Metadata:     metadata,
	}
	if err := r.auditor.Ship(ctx, entry); err != nil {
		slog.Warn("failed to ship reconcile audit entry", "action", action, "error", err)
	}
}
