package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkilian/eventstore/internal/partition"
	"github.com/arkilian/eventstore/internal/storage"
)

// ReconciliationReport contains the results of a manifest-storage reconciliation.
type ReconciliationReport struct {
	// DanglingEntries are manifest records whose object_path does not exist in storage.
	DanglingEntries []DanglingEntry
	// OrphanedObjects are partition files in storage with no manifest record.
	OrphanedObjects []string
	// TotalManifestEntries is the number of partitions checked.
	TotalManifestEntries int
	// TotalStorageObjects is the number of partition files scanned.
	TotalStorageObjects int
	// RunAt is when the reconciliation was performed.
	RunAt time.Time
}

// DanglingEntry represents a manifest record pointing to a missing storage object.
type DanglingEntry struct {
	PartitionID string
	ObjectPath  string
}

// HasIssues returns true if the report contains any dangling entries or orphaned objects.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingEntries) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks consistency between the manifest catalog and object storage.
// Only ".sqlite" objects under storagePrefix count as partition files.
func Reconcile(ctx context.Context, catalog Catalog, store storage.ObjectStorage, storagePrefix string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		RunAt: time.Now(),
	}

	partitions, err := catalog.ListPartitions(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list manifest partitions: %w", err)
	}
	report.TotalManifestEntries = len(partitions)

	manifestPaths := make(map[string]string, len(partitions)) // object_path -> partition_id
	for _, p := range partitions {
		manifestPaths[p.ObjectPath] = p.PartitionID
	}

	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exists, err := store.Exists(ctx, p.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("reconciliation: failed to check object %s: %w", p.ObjectPath, err)
		}
		if !exists {
			report.DanglingEntries = append(report.DanglingEntries, DanglingEntry{
				PartitionID: p.PartitionID,
				ObjectPath:  p.ObjectPath,
			})
		}
	}

	objects, err := store.ListObjects(ctx, storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage objects: %w", err)
	}
	for _, objPath := range objects {
		if !strings.HasSuffix(objPath, ".sqlite") {
			continue
		}
		report.TotalStorageObjects++
		if _, tracked := manifestPaths[objPath]; !tracked {
			report.OrphanedObjects = append(report.OrphanedObjects, objPath)
		}
	}

	return report, nil
}

// RegisterOrphans registers the orphaned objects of a report from their
// metadata sidecars, downloading each sidecar into tmpDir. Orphans without a
// sidecar are skipped. It returns the number of partitions registered.
func RegisterOrphans(ctx context.Context, catalog Catalog, store storage.ObjectStorage, report *ReconciliationReport, tmpDir string) (int, error) {
	registered := 0
	for _, objPath := range report.OrphanedObjects {
		if err := ctx.Err(); err != nil {
			return registered, err
		}

		metaPath := partition.MetadataPath(objPath)
		localPath := filepath.Join(tmpDir, filepath.Base(metaPath))
		if err := store.Download(ctx, metaPath, localPath); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				continue
			}
			return registered, fmt.Errorf("reconciliation: failed to download sidecar %s: %w", metaPath, err)
		}

		sidecar, err := partition.ReadMetadataFromFile(localPath)
		os.Remove(localPath)
		if err != nil {
			return registered, fmt.Errorf("reconciliation: %s: %w", metaPath, err)
		}
		if err := catalog.RegisterPartition(ctx, sidecar, objPath, metaPath); err != nil {
			return registered, err
		}
		registered++
	}
	return registered, nil
}
