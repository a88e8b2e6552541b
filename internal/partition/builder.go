// Package partition writes immutable SQLite micro-partitions of events and
// the JSON metadata sidecars that describe them.
package partition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arkilian/eventstore/pkg/types"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the version of the partition table layout.
const SchemaVersion = 1

// TableName is the table every partition stores its events in.
const TableName = "events"

// Timestamps are unix seconds. Tags are a JSON object; payload is
// snappy-compressed JSON.
const createTableSQL = `
	CREATE TABLE events (
		project_id INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		group_id INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		platform TEXT NOT NULL,
		type TEXT NOT NULL,
		tags TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (project_id, event_id)
	) WITHOUT ROWID
`

var createIndexSQL = []string{
	"CREATE INDEX idx_events_project_time ON events(project_id, timestamp)",
	"CREATE INDEX idx_events_group ON events(group_id)",
}

// Info describes a built partition.
type Info struct {
	PartitionID  string
	Key          Key
	SQLitePath   string
	MetadataPath string
	RowCount     int64
	SizeBytes    int64
	Ranges       map[string]MinMax
	CreatedAt    time.Time
}

// Builder creates partitions in a local output directory.
type Builder struct {
	outputDir string
}

// NewBuilder creates a builder writing into outputDir.
func NewBuilder(outputDir string) *Builder {
	return &Builder{outputDir: outputDir}
}

// Build writes events into a new partition file. All events must share key.
func (b *Builder) Build(ctx context.Context, key Key, events []types.Event) (*Info, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("partition: cannot build partition with no events")
	}
	if err := ValidateEvents(events); err != nil {
		return nil, fmt.Errorf("partition: validation failed: %w", err)
	}
	for i, e := range events {
		if KeyFor(e) != key {
			return nil, fmt.Errorf("partition: event %d belongs to %s, not %s", i, KeyFor(e), key)
		}
	}

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}

	partitionID := fmt.Sprintf("events_%d_%s_%s", key.ProjectID, key.Day, uuid.New().String()[:8])
	sqlitePath := filepath.Join(b.outputDir, partitionID+".sqlite")

	stats, err := b.write(ctx, sqlitePath, events)
	if err != nil {
		os.Remove(sqlitePath)
		return nil, err
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat SQLite file: %w", err)
	}

	ranges := make(map[string]MinMax, 3)
	for _, col := range []string{types.ColumnProjectID, types.ColumnGroupID, types.ColumnTimestamp} {
		if r, ok := stats.Range(col); ok {
			ranges[col] = r
		}
	}

	return &Info{
		PartitionID: partitionID,
		Key:         key,
		SQLitePath:  sqlitePath,
		RowCount:    stats.RowCount(),
		SizeBytes:   fileInfo.Size(),
		Ranges:      ranges,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (b *Builder) write(ctx context.Context, sqlitePath string, events []types.Event) (*StatsTracker, error) {
	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	// WAL while writing, then DELETE so the finished file is self-contained.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("partition: failed to create events table: %w", err)
	}
	for _, stmt := range createIndexSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("partition: failed to create index: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (project_id, event_id, group_id, timestamp, platform, type, tags, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	stats := NewStatsTracker()
	for _, e := range events {
		tags := e.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("partition: failed to marshal tags: %w", err)
		}
		data := e.Data
		if data == nil {
			data = map[string]any{}
		}
		payloadJSON, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("partition: failed to marshal payload: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			e.ProjectID,
			types.NormalizeEventID(e.EventID),
			e.GroupID,
			e.Timestamp.Unix(),
			e.Platform,
			e.Type,
			string(tagsJSON),
			snappy.Encode(nil, payloadJSON),
		); err != nil {
			return nil, fmt.Errorf("partition: failed to insert event: %w", err)
		}
		stats.Update(e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("partition: failed to commit: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("partition: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close database: %w", err)
	}
	return stats, nil
}
