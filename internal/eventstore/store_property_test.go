package eventstore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/arkilian/eventstore/internal/backend/memory"
	"github.com/arkilian/eventstore/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DefaultOrdering checks that GetEvents orders by timestamp
// descending with event id ascending on ties, and that repeated calls agree.
func TestProperty_DefaultOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	properties.Property("events come back newest first, ties by id", prop.ForAll(
		func(offsets []int64) bool {
			mem := memory.New()
			for i, off := range offsets {
				mem.Insert(types.Event{
					EventID:   eventID(len(offsets) - i),
					ProjectID: 1,
					Timestamp: base.Add(time.Duration(off) * time.Second),
				})
			}
			es := New(mem, Options{})
			spec := types.FilterSpec{ProjectIDs: []int64{1}}

			first, err := es.GetEvents(context.Background(), spec)
			if err != nil || len(first) != len(offsets) {
				return false
			}
			for i := 1; i < len(first); i++ {
				prev, cur := first[i-1], first[i]
				if prev.Timestamp.Before(cur.Timestamp) {
					return false
				}
				if prev.Timestamp.Equal(cur.Timestamp) && prev.EventID >= cur.EventID {
					return false
				}
			}

			second, err := es.GetEvents(context.Background(), spec)
			return err == nil && reflect.DeepEqual(first, second)
		},
		gen.SliceOfN(20, gen.Int64Range(0, 5)),
	))

	properties.Property("unscoped specs never reach the backend", prop.ForAll(
		func(groups []int64, limit int) bool {
			es, counter := newMemoryStore(t)
			_, err := es.GetEvents(context.Background(), types.FilterSpec{GroupIDs: groups, Limit: limit})
			return err != nil && counter.calls.Load() == 0
		},
		gen.SliceOf(gen.Int64Range(1, 100)),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
