package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkilian/eventstore/internal/bloom"
	"github.com/arkilian/eventstore/pkg/types"
)

// MetadataSidecar is the .meta.json file uploaded next to each partition.
// The manifest is rebuilt from sidecars, so it carries everything pruning needs.
type MetadataSidecar struct {
	PartitionID   string                   `json:"partition_id"`
	PartitionKey  string                   `json:"partition_key"`
	SchemaVersion int                      `json:"schema_version"`
	RowCount      int64                    `json:"row_count"`
	SizeBytes     int64                    `json:"size_bytes"`
	Ranges        map[string]MinMax        `json:"ranges"`
	BloomFilters  map[string]bloom.Encoded `json:"bloom_filters"`
	CreatedAt     int64                    `json:"created_at"`
}

// NewMetadataSidecar builds the sidecar for a partition, including bloom
// filters over event_id and group_id.
func NewMetadataSidecar(info *Info, events []types.Event) *MetadataSidecar {
	eventIDs := bloom.NewForCount(len(events), bloom.DefaultFPR)
	groupIDs := bloom.NewForCount(len(events), bloom.DefaultFPR)
	for _, e := range events {
		eventIDs.AddString(types.NormalizeEventID(e.EventID))
		groupIDs.AddInt64(e.GroupID)
	}

	return &MetadataSidecar{
		PartitionID:   info.PartitionID,
		PartitionKey:  info.Key.String(),
		SchemaVersion: SchemaVersion,
		RowCount:      info.RowCount,
		SizeBytes:     info.SizeBytes,
		Ranges:        info.Ranges,
		BloomFilters: map[string]bloom.Encoded{
			types.ColumnEventID: eventIDs.Encode(),
			types.ColumnGroupID: groupIDs.Encode(),
		},
		CreatedAt: info.CreatedAt.Unix(),
	}
}

// WriteMetadata generates the sidecar, writes it next to the SQLite file and
// records its path in info.
func WriteMetadata(info *Info, events []types.Event) (*MetadataSidecar, error) {
	sidecar := NewMetadataSidecar(info, events)
	path := MetadataPath(info.SQLitePath)
	if err := sidecar.WriteToFile(path); err != nil {
		return nil, err
	}
	info.MetadataPath = path
	return sidecar, nil
}

// WriteToFile writes the sidecar as indented JSON.
func (s *MetadataSidecar) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}
	return nil
}

// ReadMetadataFromFile reads a sidecar written by WriteToFile.
func ReadMetadataFromFile(path string) (*MetadataSidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to read sidecar file: %w", err)
	}
	var sidecar MetadataSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &sidecar, nil
}

// MetadataPath returns the sidecar path for a partition file:
// "x/events_1.sqlite" becomes "x/events_1.meta.json".
func MetadataPath(sqlitePath string) string {
	dir, base := filepath.Split(sqlitePath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".meta.json")
}

// CreatedAtTime returns the creation time.
func (s *MetadataSidecar) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0).UTC()
}

// Filter decodes the bloom filter of a column, if present.
func (s *MetadataSidecar) Filter(column string) (*bloom.Filter, bool, error) {
	enc, ok := s.BloomFilters[column]
	if !ok {
		return nil, false, nil
	}
	f, err := bloom.Decode(enc)
	if err != nil {
		return nil, false, fmt.Errorf("metadata: %s bloom filter: %w", column, err)
	}
	return f, true, nil
}
