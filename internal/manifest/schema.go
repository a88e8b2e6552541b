// Package manifest provides the manifest catalog for tracking partition metadata.
package manifest

// Schema contains the SQL schema definitions for the manifest catalog (manifest.db).
// The manifest is the source of truth for which partitions exist. Every row
// can be rebuilt from the partition's metadata sidecar.

// CreatePartitionsTableSQL creates the core partitions table.
// Each partition holds one project on one UTC day, so project_id is exact
// and only group_id and timestamp need min/max statistics.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    partition_id TEXT PRIMARY KEY,
    partition_key TEXT NOT NULL,
    project_id INTEGER NOT NULL,
    object_path TEXT NOT NULL,
    meta_path TEXT NOT NULL,
    min_group_id INTEGER,
    max_group_id INTEGER,
    min_timestamp INTEGER,
    max_timestamp INTEGER,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
)`

// CreatePartitionsIndexesSQL creates indexes for partition pruning.
var CreatePartitionsIndexesSQL = []string{
	// Covering index for the common prune pattern (project + time range)
	`CREATE INDEX IF NOT EXISTS idx_partitions_prune ON partitions(project_id, min_timestamp, max_timestamp)`,

	`CREATE INDEX IF NOT EXISTS idx_partitions_key ON partitions(partition_key)`,

	`CREATE INDEX IF NOT EXISTS idx_partitions_created ON partitions(created_at)`,
}

// CreatePartitionBloomsTableSQL stores each partition's bloom filters in the
// manifest itself, so bloom pruning needs no sidecar download.
const CreatePartitionBloomsTableSQL = `
CREATE TABLE IF NOT EXISTS partition_blooms (
    partition_id TEXT NOT NULL,
    column_name TEXT NOT NULL,
    bloom_data BLOB NOT NULL,
    num_bits INTEGER NOT NULL,
    num_hashes INTEGER NOT NULL,
    item_count INTEGER NOT NULL,
    PRIMARY KEY (partition_id, column_name),
    FOREIGN KEY (partition_id) REFERENCES partitions(partition_id)
)`

// AnalyzeSQL runs ANALYZE to keep the SQLite query planner informed about index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the manifest catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreatePartitionsTableSQL,
		CreatePartitionBloomsTableSQL,
	}
	statements = append(statements, CreatePartitionsIndexesSQL...)
	return statements
}
