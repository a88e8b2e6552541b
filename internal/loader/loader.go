// Package loader writes events into partitioned storage: it routes them by
// partition key, builds one SQLite partition per key, uploads the partition
// and its metadata sidecar, and registers it in the manifest.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/arkilian/eventstore/internal/manifest"
	"github.com/arkilian/eventstore/internal/partition"
	"github.com/arkilian/eventstore/internal/storage"
	"github.com/arkilian/eventstore/pkg/types"
)

// Loader loads event batches.
type Loader struct {
	builder *partition.Builder
	catalog manifest.Catalog
	storage storage.ObjectStorage
}

// Report describes a completed load.
type Report struct {
	Partitions []string
	Events     int
}

// New creates a loader that stages partitions in workDir.
func New(catalog manifest.Catalog, store storage.ObjectStorage, workDir string) *Loader {
	return &Loader{
		builder: partition.NewBuilder(workDir),
		catalog: catalog,
		storage: store,
	}
}

// ObjectPath returns the storage path of a partition file.
func ObjectPath(key partition.Key, partitionID string) string {
	return fmt.Sprintf("partitions/%s/%s.sqlite", key, partitionID)
}

// Load validates the batch and writes one partition per key. A failure stops
// the load; partitions registered before it stay registered.
func (l *Loader) Load(ctx context.Context, events []types.Event) (*Report, error) {
	if len(events) == 0 {
		return &Report{}, nil
	}
	if err := partition.ValidateEvents(events); err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}

	keys, groups := partition.Route(events)
	report := &Report{}
	for _, key := range keys {
		id, err := l.loadPartition(ctx, key, groups[key])
		if err != nil {
			return report, err
		}
		report.Partitions = append(report.Partitions, id)
		report.Events += len(groups[key])
	}
	return report, nil
}

func (l *Loader) loadPartition(ctx context.Context, key partition.Key, events []types.Event) (string, error) {
	info, err := l.builder.Build(ctx, key, events)
	if err != nil {
		return "", fmt.Errorf("loader: failed to build partition %s: %w", key, err)
	}
	defer os.Remove(info.SQLitePath)

	sidecar, err := partition.WriteMetadata(info, events)
	if err != nil {
		return "", fmt.Errorf("loader: failed to write metadata for %s: %w", key, err)
	}
	defer os.Remove(info.MetadataPath)

	objectPath := ObjectPath(key, info.PartitionID)
	metaObjectPath := partition.MetadataPath(objectPath)

	if err := l.storage.Upload(ctx, info.SQLitePath, objectPath); err != nil {
		return "", fmt.Errorf("loader: failed to upload sqlite file: %w", err)
	}
	if err := l.storage.Upload(ctx, info.MetadataPath, metaObjectPath); err != nil {
		return "", fmt.Errorf("loader: failed to upload metadata: %w", err)
	}

	if err := l.catalog.RegisterPartition(ctx, sidecar, objectPath, metaObjectPath); err != nil {
		return "", fmt.Errorf("loader: failed to register partition: %w", err)
	}

	log.Printf("loader: registered partition %s (%d events, %d bytes)", info.PartitionID, info.RowCount, info.SizeBytes)
	return info.PartitionID, nil
}

// ReadNDJSON decodes one JSON event per line. Blank lines are skipped.
func ReadNDJSON(r io.Reader) ([]types.Event, error) {
	var events []types.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var e types.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("loader: line %d: %w", line, err)
		}
		e.EventID = types.NormalizeEventID(e.EventID)
		e.Timestamp = e.Timestamp.UTC().Truncate(time.Second)
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loader: failed to read input: %w", err)
	}
	return events, nil
}
