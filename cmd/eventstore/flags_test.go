package main

import (
	"flag"
	"reflect"
	"testing"
	"time"

	"github.com/arkilian/eventstore/pkg/types"
)

func TestQueryFlags_Spec(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var qf queryFlags
	qf.register(fs)
	err := fs.Parse([]string{
		"-project", "1, 2",
		"-group", "7",
		"-start", "2024-01-02T00:00:00Z",
		"-where", "platform=python",
		"-where", "tags[env]!=prod",
		"-where", "type NOT IN error,default",
		"-order", "-timestamp,event_id",
		"-limit", "10",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	spec, err := qf.spec()
	if err != nil {
		t.Fatalf("spec failed: %v", err)
	}
	if !reflect.DeepEqual(spec.ProjectIDs, []int64{1, 2}) || !reflect.DeepEqual(spec.GroupIDs, []int64{7}) {
		t.Errorf("unexpected ids: %v %v", spec.ProjectIDs, spec.GroupIDs)
	}
	if !spec.Start.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) || !spec.End.IsZero() {
		t.Errorf("unexpected range: %v - %v", spec.Start, spec.End)
	}
	wantConds := []types.Condition{
		{Field: "platform", Op: types.OpEq, Value: "python"},
		{Field: "tags[env]", Op: types.OpNotEq, Value: "prod"},
		{Field: "type", Op: types.OpNotIn, Value: []string{"error", "default"}},
	}
	if !reflect.DeepEqual(spec.Conditions, wantConds) {
		t.Errorf("conditions = %+v, want %+v", spec.Conditions, wantConds)
	}
	wantOrder := []types.Ordering{{Field: "timestamp", Desc: true}, {Field: "event_id"}}
	if !reflect.DeepEqual(spec.OrderBy, wantOrder) {
		t.Errorf("order = %+v, want %+v", spec.OrderBy, wantOrder)
	}
	if spec.Limit != 10 {
		t.Errorf("limit = %d", spec.Limit)
	}
}

func TestQueryFlags_Invalid(t *testing.T) {
	cases := []queryFlags{
		{projects: "x"},
		{projects: "1", start: "yesterday"},
		{projects: "1", where: listFlag{"platform"}},
	}
	for _, qf := range cases {
		if _, err := qf.spec(); err == nil {
			t.Errorf("expected error for %+v", qf)
		}
	}
}
