package manifest

import (
	"context"
	"testing"
)

func TestPruner_Prune(t *testing.T) {
	catalog := newTestCatalog(t)
	pruner := NewPruner(catalog)
	ctx := context.Background()

	register(t, catalog, testSidecar("p1", 1, 1000, 1999, []int64{1, 2}, []string{"ev-a", "ev-b"}))
	register(t, catalog, testSidecar("p2", 1, 2000, 2999, []int64{1, 3}, []string{"ev-c"}))
	register(t, catalog, testSidecar("p3", 1, 3000, 3999, []int64{4}, []string{"ev-d"}))

	tests := []struct {
		name        string
		filter      Filter
		want        []string
		rangePruned int
		bloomPruned int
	}{
		{"all", Filter{ProjectIDs: []int64{1}}, []string{"p3", "p2", "p1"}, 0, 0},
		{"time range", Filter{ProjectIDs: []int64{1}, Start: 2000, End: 3000}, []string{"p2"}, 2, 0},
		{"event bloom", Filter{ProjectIDs: []int64{1}, EventIDs: []string{"ev-c"}}, []string{"p2"}, 0, 2},
		{"group bloom", Filter{ProjectIDs: []int64{1}, GroupIDs: []int64{2}}, []string{"p1"}, 1, 1},
		{"nothing", Filter{ProjectIDs: []int64{1}, EventIDs: []string{"ev-z"}}, nil, 0, 3},
		{"no projects", Filter{}, nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := pruner.Prune(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Prune failed: %v", err)
			}
			if len(result.Partitions) != len(tt.want) {
				t.Fatalf("expected %d partitions, got %d", len(tt.want), len(result.Partitions))
			}
			for i, id := range tt.want {
				if result.Partitions[i].PartitionID != id {
					t.Errorf("partition %d: got %s, want %s", i, result.Partitions[i].PartitionID, id)
				}
			}
			if result.RangePruned != tt.rangePruned || result.BloomPruned != tt.bloomPruned {
				t.Errorf("pruned range=%d bloom=%d, want range=%d bloom=%d",
					result.RangePruned, result.BloomPruned, tt.rangePruned, tt.bloomPruned)
			}
			if result.Pruned() != tt.rangePruned+tt.bloomPruned {
				t.Errorf("Pruned() = %d", result.Pruned())
			}
		})
	}
}
