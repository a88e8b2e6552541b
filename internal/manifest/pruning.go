package manifest

import (
	"context"
	"fmt"

	"github.com/arkilian/eventstore/internal/bloom"
	"github.com/arkilian/eventstore/pkg/types"
)

// Pruner selects the partitions a query must scan using the 2-phase
// strategy: min/max statistics in the manifest, then bloom filters.
type Pruner struct {
	catalog Catalog
}

// NewPruner creates a new partition pruner.
func NewPruner(catalog Catalog) *Pruner {
	return &Pruner{catalog: catalog}
}

// PruneResult contains the result of a pruning operation.
type PruneResult struct {
	Partitions []*PartitionRecord
	// Total is the number of partitions of the queried projects
	Total int
	// RangePruned were excluded by min/max statistics
	RangePruned int
	// BloomPruned were excluded by bloom filters
	BloomPruned int
}

// Pruned returns the number of partitions excluded by either phase.
func (r *PruneResult) Pruned() int {
	return r.RangePruned + r.BloomPruned
}

// Prune returns the partitions that may contain rows matching f.
func (p *Pruner) Prune(ctx context.Context, f Filter) (*PruneResult, error) {
	if len(f.ProjectIDs) == 0 {
		return &PruneResult{}, nil
	}

	total, err := p.catalog.CountPartitions(ctx, f.ProjectIDs)
	if err != nil {
		return nil, err
	}

	// Phase 1: min/max statistics.
	candidates, err := p.catalog.FindPartitions(ctx, f)
	if err != nil {
		return nil, err
	}
	result := &PruneResult{Total: int(total)}
	if len(candidates) < result.Total {
		result.RangePruned = result.Total - len(candidates)
	}

	// Phase 2: bloom filters for point lookups.
	if len(f.EventIDs) > 0 {
		candidates, err = p.pruneByBloom(ctx, candidates, types.ColumnEventID, func(c *bloom.Filter) bool {
			return c.ContainsAnyString(f.EventIDs)
		})
		if err != nil {
			return nil, err
		}
	}
	if len(f.GroupIDs) > 0 {
		candidates, err = p.pruneByBloom(ctx, candidates, types.ColumnGroupID, func(c *bloom.Filter) bool {
			return c.ContainsAnyInt64(f.GroupIDs)
		})
		if err != nil {
			return nil, err
		}
	}

	if n := result.Total - result.RangePruned - len(candidates); n > 0 {
		result.BloomPruned = n
	}
	result.Partitions = candidates
	return result, nil
}

// pruneByBloom keeps the partitions whose filter for column may contain a
// value. Partitions without a filter are always kept.
func (p *Pruner) pruneByBloom(ctx context.Context, partitions []*PartitionRecord, column string, mayContain func(*bloom.Filter) bool) ([]*PartitionRecord, error) {
	if len(partitions) == 0 {
		return partitions, nil
	}

	ids := make([]string, len(partitions))
	for i, rec := range partitions {
		ids[i] = rec.PartitionID
	}
	filters, err := p.catalog.BloomFilters(ctx, ids, column)
	if err != nil {
		return nil, fmt.Errorf("manifest: bloom pruning on %s: %w", column, err)
	}

	kept := partitions[:0:0]
	for _, rec := range partitions {
		f, ok := filters[rec.PartitionID]
		if !ok || mayContain(f) {
			kept = append(kept, rec)
		}
	}
	return kept, nil
}
