package query

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/arkilian/eventstore/pkg/types"
)

// CompareRows compares two rows under orderBy. It returns a negative value
// when a sorts before b.
func CompareRows(a, b Row, orderBy []types.Ordering) int {
	for _, o := range orderBy {
		cmp := compareValues(a[o.Field], b[o.Field])
		if cmp == 0 {
			continue
		}
		if o.Desc {
			return -cmp
		}
		return cmp
	}
	return 0
}

// SortRows sorts rows in place under orderBy.
func SortRows(rows []Row, orderBy []types.Ordering) {
	if len(orderBy) == 0 || len(rows) <= 1 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareRows(rows[i], rows[j], orderBy) < 0
	})
}

// Window applies OFFSET and LIMIT to already ordered rows.
func Window(rows []Row, offset, limit int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []Row{}
		}
		rows = rows[offset:]
	}
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// KeysetOf returns the keyset position of a row.
func KeysetOf(row Row) Keyset {
	ts, _ := row[types.ColumnTimestamp].(int64)
	id, _ := row[types.ColumnEventID].(string)
	return Keyset{Timestamp: ts, EventID: id}
}

// mergeItem is one pending row in the merge heap.
type mergeItem struct {
	row    Row
	stream int
	pos    int
}

type mergeHeap struct {
	items   []mergeItem
	orderBy []types.Ordering
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	cmp := CompareRows(h.items[i].row, h.items[j].row, h.orderBy)
	if cmp != 0 {
		return cmp < 0
	}
	// Equal keys keep stream order so merging stays deterministic.
	return h.items[i].stream < h.items[j].stream
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Merge performs a k-way merge of streams that are each sorted under orderBy.
// At most limit rows are produced; a negative limit means no limit.
func Merge(streams [][]Row, orderBy []types.Ordering, limit int) []Row {
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	if limit >= 0 && limit < total {
		total = limit
	}
	out := make([]Row, 0, total)

	h := &mergeHeap{orderBy: orderBy}
	for i, s := range streams {
		if len(s) > 0 {
			h.items = append(h.items, mergeItem{row: s[0], stream: i})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		if limit >= 0 && len(out) >= limit {
			break
		}
		top := h.items[0]
		out = append(out, top.row)
		next := top.pos + 1
		if next < len(streams[top.stream]) {
			h.items[0] = mergeItem{row: streams[top.stream][next], stream: top.stream, pos: next}
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

// compareValues orders nil first, then numbers, then strings. Values of
// other types fall back to their formatted text.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if ia, ok := a.(int64); ok {
		if ib, ok := b.(int64); ok {
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			}
			return 0
		}
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if !aStr || !bStr {
		sa = fmt.Sprintf("%v", a)
		sb = fmt.Sprintf("%v", b)
	}
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
