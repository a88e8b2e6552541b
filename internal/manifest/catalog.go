package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/arkilian/eventstore/internal/bloom"
	"github.com/arkilian/eventstore/internal/errors"
	"github.com/arkilian/eventstore/internal/partition"
	"github.com/arkilian/eventstore/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Catalog manages partition metadata in manifest.db.
type Catalog interface {
	// RegisterPartition adds a partition described by its sidecar. Registering
	// the same partition twice is a no-op.
	RegisterPartition(ctx context.Context, sidecar *partition.MetadataSidecar, objectPath, metaPath string) error

	// FindPartitions returns partitions whose statistics may match the filter.
	FindPartitions(ctx context.Context, f Filter) ([]*PartitionRecord, error)

	// GetPartition retrieves a single partition by ID.
	GetPartition(ctx context.Context, partitionID string) (*PartitionRecord, error)

	// ListPartitions returns every partition of a project, or of all projects
	// when projectID is 0.
	ListPartitions(ctx context.Context, projectID int64) ([]*PartitionRecord, error)

	// CountPartitions returns the number of partitions of the given projects.
	CountPartitions(ctx context.Context, projectIDs []int64) (int64, error)

	// BloomFilters loads the bloom filter of column for each partition that has one.
	BloomFilters(ctx context.Context, partitionIDs []string, column string) (map[string]*bloom.Filter, error)

	// Close closes the catalog database connection.
	Close() error
}

// PartitionRecord represents a partition in the manifest.
type PartitionRecord struct {
	PartitionID   string
	PartitionKey  string
	ProjectID     int64
	ObjectPath    string
	MetaPath      string
	MinGroupID    *int64
	MaxGroupID    *int64
	MinTimestamp  *int64
	MaxTimestamp  *int64
	RowCount      int64
	SizeBytes     int64
	SchemaVersion int
	CreatedAt     time.Time
}

// Filter is the subset of a query the manifest can prune on.
type Filter struct {
	ProjectIDs []int64
	// GroupIDs and EventIDs are checked against bloom filters; GroupIDs also
	// against the min/max range
	GroupIDs []int64
	EventIDs []string
	// Start is inclusive and End exclusive, in unix seconds; 0 is unbounded
	Start int64
	End   int64
}

var partitionColumns = []string{
	"partition_id", "partition_key", "project_id", "object_path", "meta_path",
	"min_group_id", "max_group_id",
	"min_timestamp", "max_timestamp",
	"row_count", "size_bytes", "schema_version", "created_at",
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertPartitionStmt *sql.Stmt
	insertBloomStmt     *sql.Stmt
}

// NewCatalog creates a new SQLite-based catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	// The schema must exist before a read-only connection can open the file.
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO partitions (
			partition_id, partition_key, project_id, object_path, meta_path,
			min_group_id, max_group_id,
			min_timestamp, max_timestamp,
			row_count, size_bytes, schema_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition_id) DO NOTHING`)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.insertPartitionStmt = insertStmt

	bloomStmt, err := db.Prepare(`
		INSERT OR REPLACE INTO partition_blooms
			(partition_id, column_name, bloom_data, num_bits, num_hashes, item_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("manifest: failed to prepare bloom insert statement: %w", err)
	}
	catalog.insertBloomStmt = bloomStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RegisterPartition adds a new partition and its bloom filters in one transaction.
func (c *SQLiteCatalog) RegisterPartition(ctx context.Context, sidecar *partition.MetadataSidecar, objectPath, metaPath string) error {
	projectRange, ok := sidecar.Ranges[types.ColumnProjectID]
	if !ok {
		return fmt.Errorf("manifest: partition %s has no project_id range", sidecar.PartitionID)
	}
	if projectRange.Min != projectRange.Max {
		return fmt.Errorf("manifest: partition %s spans projects %d..%d", sidecar.PartitionID, projectRange.Min, projectRange.Max)
	}

	blooms := make(map[string]*bloom.Filter, len(sidecar.BloomFilters))
	for column := range sidecar.BloomFilters {
		f, _, err := sidecar.Filter(column)
		if err != nil {
			return fmt.Errorf("manifest: partition %s: %w", sidecar.PartitionID, err)
		}
		blooms[column] = f
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	minGroup, maxGroup := rangeBounds(sidecar.Ranges, types.ColumnGroupID)
	minTS, maxTS := rangeBounds(sidecar.Ranges, types.ColumnTimestamp)

	res, err := tx.StmtContext(ctx, c.insertPartitionStmt).ExecContext(ctx,
		sidecar.PartitionID, sidecar.PartitionKey, projectRange.Min, objectPath, metaPath,
		minGroup, maxGroup,
		minTS, maxTS,
		sidecar.RowCount, sidecar.SizeBytes, sidecar.SchemaVersion, sidecar.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to insert partition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already registered.
		return nil
	}

	bloomStmt := tx.StmtContext(ctx, c.insertBloomStmt)
	for column, f := range blooms {
		if _, err := bloomStmt.ExecContext(ctx,
			sidecar.PartitionID, column, f.Marshal(), f.NumBits(), f.NumHashes(), int64(f.Count()),
		); err != nil {
			return fmt.Errorf("manifest: failed to insert %s bloom filter: %w", column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: failed to commit transaction: %w", err)
	}

	c.logPartitionCountThreshold(ctx)
	return nil
}

func rangeBounds(ranges map[string]partition.MinMax, column string) (*int64, *int64) {
	r, ok := ranges[column]
	if !ok {
		return nil, nil
	}
	return &r.Min, &r.Max
}

// GetPartition retrieves a single partition by ID.
func (c *SQLiteCatalog) GetPartition(ctx context.Context, partitionID string) (*PartitionRecord, error) {
	query, args, err := sq.Select(partitionColumns...).
		From("partitions").
		Where(sq.Eq{"partition_id": partitionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to build query: %w", err)
	}

	records, err := c.queryPartitions(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewManifestError(errors.CodePartitionNotFound,
			fmt.Sprintf("partition %s not found", partitionID), nil)
	}
	return records[0], nil
}

// FindPartitions returns partitions of the filter's projects whose time and
// group ranges overlap the filter. Results are ordered newest first.
func (c *SQLiteCatalog) FindPartitions(ctx context.Context, f Filter) ([]*PartitionRecord, error) {
	query, args, err := buildFindQuery(f)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to build find query: %w", err)
	}
	return c.queryPartitions(ctx, query, args)
}

// buildFindQuery renders the phase-1 pruning query. NULL statistics never
// exclude a partition.
func buildFindQuery(f Filter) (string, []interface{}, error) {
	where := sq.And{sq.Eq{"project_id": f.ProjectIDs}}
	if f.Start != 0 {
		where = append(where, sq.Or{sq.Eq{"max_timestamp": nil}, sq.GtOrEq{"max_timestamp": f.Start}})
	}
	if f.End != 0 {
		where = append(where, sq.Or{sq.Eq{"min_timestamp": nil}, sq.Lt{"min_timestamp": f.End}})
	}
	if len(f.GroupIDs) > 0 {
		lo, hi := f.GroupIDs[0], f.GroupIDs[0]
		for _, g := range f.GroupIDs[1:] {
			if g < lo {
				lo = g
			}
			if g > hi {
				hi = g
			}
		}
		where = append(where,
			sq.Or{sq.Eq{"min_group_id": nil}, sq.LtOrEq{"min_group_id": hi}},
			sq.Or{sq.Eq{"max_group_id": nil}, sq.GtOrEq{"max_group_id": lo}},
		)
	}

	return sq.Select(partitionColumns...).
		From("partitions").
		Where(where).
		OrderBy("max_timestamp DESC", "partition_id").
		ToSql()
}

// ListPartitions returns every partition of a project, or all partitions
// when projectID is 0.
func (c *SQLiteCatalog) ListPartitions(ctx context.Context, projectID int64) ([]*PartitionRecord, error) {
	builder := sq.Select(partitionColumns...).From("partitions").OrderBy("project_id", "partition_id")
	if projectID != 0 {
		builder = builder.Where(sq.Eq{"project_id": projectID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to build list query: %w", err)
	}
	return c.queryPartitions(ctx, query, args)
}

// CountPartitions returns the number of partitions of the given projects.
func (c *SQLiteCatalog) CountPartitions(ctx context.Context, projectIDs []int64) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("partitions").
		Where(sq.Eq{"project_id": projectIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("manifest: failed to build count query: %w", err)
	}

	var count int64
	if err := c.readDB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("manifest: failed to count partitions: %w", err)
	}
	return count, nil
}

// BloomFilters loads the bloom filter of column for the given partitions.
// Partitions without a stored filter are absent from the map.
func (c *SQLiteCatalog) BloomFilters(ctx context.Context, partitionIDs []string, column string) (map[string]*bloom.Filter, error) {
	result := make(map[string]*bloom.Filter, len(partitionIDs))
	if len(partitionIDs) == 0 {
		return result, nil
	}

	query, args, err := sq.Select("partition_id", "bloom_data").
		From("partition_blooms").
		Where(sq.Eq{"partition_id": partitionIDs, "column_name": column}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to build bloom query: %w", err)
	}

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query bloom filters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan bloom filter: %w", err)
		}
		f, err := bloom.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("manifest: partition %s %s bloom filter: %w", id, column, err)
		}
		result[id] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating bloom filters: %w", err)
	}
	return result, nil
}

func (c *SQLiteCatalog) queryPartitions(ctx context.Context, query string, args []interface{}) ([]*PartitionRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query partitions: %w", err)
	}
	defer rows.Close()

	var records []*PartitionRecord
	for rows.Next() {
		record, err := scanPartitionRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating partitions: %w", err)
	}

	return records, nil
}

// scanPartitionRows scans rows into a PartitionRecord.
func scanPartitionRows(rows *sql.Rows) (*PartitionRecord, error) {
	var record PartitionRecord
	var createdAtUnix int64

	err := rows.Scan(
		&record.PartitionID, &record.PartitionKey, &record.ProjectID, &record.ObjectPath, &record.MetaPath,
		&record.MinGroupID, &record.MaxGroupID,
		&record.MinTimestamp, &record.MaxTimestamp,
		&record.RowCount, &record.SizeBytes, &record.SchemaVersion, &createdAtUnix,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to scan partition: %w", err)
	}

	record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return &record, nil
}

// RunAnalyze runs ANALYZE to update SQLite query planner statistics.
// Should be called after bulk loads to keep index statistics current.
func (c *SQLiteCatalog) RunAnalyze(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, AnalyzeSQL); err != nil {
		return fmt.Errorf("manifest: failed to run ANALYZE: %w", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertPartitionStmt != nil {
		c.insertPartitionStmt.Close()
	}
	if c.insertBloomStmt != nil {
		c.insertBloomStmt.Close()
	}

	// Close read connection first, then write connection
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			c.db.Close()
			return err
		}
	}
	return c.db.Close()
}

// partitionCountThresholds defines the partition count levels at which warnings are emitted.
var partitionCountThresholds = []int64{1000000, 500000, 100000}

// logPartitionCountThreshold logs a warning when the partition count has
// crossed 100K, 500K or 1M. Called after each RegisterPartition.
func (c *SQLiteCatalog) logPartitionCountThreshold(ctx context.Context) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM partitions").Scan(&count)
	if err != nil {
		return // best-effort; don't fail the write path
	}
	for _, threshold := range partitionCountThresholds {
		if count >= threshold {
			log.Printf("[WARN] manifest: partition count (%d) has crossed %dK threshold", count, threshold/1000)
			return
		}
	}
}
