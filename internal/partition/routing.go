package partition

import (
	"fmt"
	"sort"
	"time"

	"github.com/arkilian/eventstore/pkg/types"
)

// Key identifies the set of events one partition holds: one project on one
// UTC day.
type Key struct {
	ProjectID int64
	Day       string // YYYYMMDD
}

// String renders the key as stored in the manifest, e.g. "42/20240102".
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ProjectID, k.Day)
}

// KeyFor returns the partition key of an event.
func KeyFor(e types.Event) Key {
	return Key{ProjectID: e.ProjectID, Day: e.Timestamp.UTC().Format("20060102")}
}

// Route groups events by partition key. Keys are returned in sorted order so
// that loads are reproducible.
func Route(events []types.Event) ([]Key, map[Key][]types.Event) {
	groups := make(map[Key][]types.Event)
	for _, e := range events {
		k := KeyFor(e)
		groups[k] = append(groups[k], e)
	}

	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProjectID != keys[j].ProjectID {
			return keys[i].ProjectID < keys[j].ProjectID
		}
		return keys[i].Day < keys[j].Day
	})
	return keys, groups
}

// DayBounds returns the [start, end) unix-second range a day key covers.
func DayBounds(day string) (int64, int64, error) {
	t, err := time.Parse("20060102", day)
	if err != nil {
		return 0, 0, fmt.Errorf("routing: invalid day %q: %w", day, err)
	}
	return t.Unix(), t.Add(24 * time.Hour).Unix(), nil
}
