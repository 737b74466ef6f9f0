package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/telemetry"
	"github.com/orgstore/orgstore/pkg/checksum"
)

// ManifestName is the object written next to the parts of every archive.
const ManifestName = "manifest.json"

// PartitionArchiver exports a partition before it is dropped. A nil
// PartitionArchiver means partitions are dropped without an export.
type PartitionArchiver interface {
	Archive(ctx context.Context, key string) (*Manifest, error)
}

// ManifestPart describes one uploaded JSON Lines object.
type ManifestPart struct {
	Path      string `json:"path"`
	Documents int    `json:"documents"`
	Size      int64  `json:"size"`
	Checksum  string `json:"sha256"`
}

// Manifest describes a complete partition export.
type Manifest struct {
	StorageKey string         `json:"storage_key"`
	ArchivedAt time.Time      `json:"archived_at"`
	Documents  int64          `json:"documents"`
	Parts      []ManifestPart `json:"parts"`
	Path       string         `json:"-"`
}

// Archiver writes partitions to an archive storage backend as relaxed
// extended JSON, one part per copy batch.
type Archiver struct {
	partitions *PartitionManager
	storage    storage.Storage
	backend    string
	prefix     string
	auditor    audit.Shipper
	now        func() time.Time
}

// NewArchiver creates an archiver. backend is the storage backend name used as
// a metric label; prefix is prepended to every object path.
func NewArchiver(partitions *PartitionManager, store storage.Storage, backend, prefix string, auditor audit.Shipper) *Archiver {
	if auditor == nil {
		auditor = audit.Discard
	}
	return &Archiver{
		partitions: partitions,
		storage:    store,
		backend:    backend,
		prefix:     prefix,
		auditor:    auditor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Archive exports every document of the partition. The manifest is uploaded
// last, so an archive without a manifest is incomplete. The partition itself
// is left untouched.
func (a *Archiver) Archive(ctx context.Context, key string) (*Manifest, error) {
	started := a.now()
	dir := path.Join(a.prefix, key, started.Format("20060102T150405Z"))
	manifest := &Manifest{
		StorageKey: key,
		ArchivedAt: started,
		Parts:      []ManifestPart{},
		Path:       path.Join(dir, ManifestName),
	}

	err := a.partitions.Stream(ctx, key, func(batch []bson.D) error {
		part, err := a.uploadPart(ctx, dir, len(manifest.Parts)+1, batch)
		if err != nil {
			return err
		}
		manifest.Parts = append(manifest.Parts, *part)
		manifest.Documents += int64(part.Documents)
		return nil
	})
	if err == nil {
		err = a.uploadManifest(ctx, manifest)
	}
	if err != nil {
		telemetry.ArchiveUploadsTotal.WithLabelValues(a.backend, "error").Inc()
		return nil, fmt.Errorf("failed to archive partition %s: %w", key, err)
	}

	telemetry.ArchiveUploadsTotal.WithLabelValues(a.backend, "success").Inc()
	telemetry.ArchivedDocumentsTotal.Add(float64(manifest.Documents))
	slog.Info("partition archived",
		"storage_key", key,
		"documents", manifest.Documents,
		"parts", len(manifest.Parts),
		"manifest", manifest.Path)

	_ = a.auditor.Ship(ctx, &audit.LogEntry{
		Action:     audit.ActionPartitionArchive,
		StorageKey: key,
		Metadata: map[string]interface{}{
			"backend":   a.backend,
			"documents": manifest.Documents,
			"manifest":  manifest.Path,
		},
	})
	return manifest, nil
}

func (a *Archiver) uploadPart(ctx context.Context, dir string, n int, batch []bson.D) (*ManifestPart, error) {
	var buf bytes.Buffer
	for _, doc := range batch {
		line, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	partPath := path.Join(dir, fmt.Sprintf("part-%05d.jsonl", n))
	sum, err := a.put(ctx, partPath, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &ManifestPart{
		Path:      partPath,
		Documents: len(batch),
		Size:      int64(buf.Len()),
		Checksum:  sum,
	}, nil
}

func (a *Archiver) uploadManifest(ctx context.Context, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	_, err = a.put(ctx, manifest.Path, data)
	return err
}

// put uploads data and checks the backend stored what was sent.
func (a *Archiver) put(ctx context.Context, objectPath string, data []byte) (string, error) {
	want := checksum.Sum(data)
	result, err := a.storage.Upload(ctx, objectPath, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	if result.Checksum != "" && result.Checksum != want {
		return "", fmt.Errorf("checksum mismatch for %s: uploaded %s, backend reported %s", objectPath, want, result.Checksum)
	}
	return want, nil
}
