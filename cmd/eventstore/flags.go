package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/eventstore/pkg/types"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ";") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// queryFlags are the filter options of get-events.
type queryFlags struct {
	projects  string
	groups    string
	events    string
	start     string
	end       string
	orderBy   string
	where     listFlag
	limit     int
	offset    int
	cursor    string
	page      bool
	unfetched bool
}

func (q *queryFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&q.projects, "project", "", "Comma separated project ids (required)")
	fs.StringVar(&q.groups, "group", "", "Comma separated group ids")
	fs.StringVar(&q.events, "event", "", "Comma separated event ids")
	fs.StringVar(&q.start, "start", "", "Inclusive lower time bound (RFC3339)")
	fs.StringVar(&q.end, "end", "", "Exclusive upper time bound (RFC3339)")
	fs.StringVar(&q.orderBy, "order", "", "Sort keys, e.g. -timestamp,event_id (- means descending)")
	fs.Var(&q.where, "where", "Condition such as platform=python, tags[env]!=prod or \"type IN error,default\" (repeatable)")
	fs.IntVar(&q.limit, "limit", 0, "Maximum number of events")
	fs.IntVar(&q.offset, "offset", 0, "Number of events to skip")
	fs.StringVar(&q.cursor, "cursor", "", "Continue from a previous page")
	fs.BoolVar(&q.page, "page", false, "Return a page with a continuation cursor")
	fs.BoolVar(&q.unfetched, "unfetched", false, "Skip payloads")
}

// spec builds the FilterSpec the flags describe.
func (q *queryFlags) spec() (types.FilterSpec, error) {
	var spec types.FilterSpec
	var err error

	if spec.ProjectIDs, err = parseIDs(q.projects); err != nil {
		return spec, fmt.Errorf("invalid -project: %w", err)
	}
	if spec.GroupIDs, err = parseIDs(q.groups); err != nil {
		return spec, fmt.Errorf("invalid -group: %w", err)
	}
	spec.EventIDs = splitList(q.events)

	if q.start != "" {
		if spec.Start, err = time.Parse(time.RFC3339, q.start); err != nil {
			return spec, fmt.Errorf("invalid -start: %w", err)
		}
	}
	if q.end != "" {
		if spec.End, err = time.Parse(time.RFC3339, q.end); err != nil {
			return spec, fmt.Errorf("invalid -end: %w", err)
		}
	}

	for _, w := range q.where {
		cond, err := parseCondition(w)
		if err != nil {
			return spec, err
		}
		spec.Conditions = append(spec.Conditions, cond)
	}
	spec.OrderBy = parseOrdering(q.orderBy)

	spec.Limit = q.limit
	spec.Offset = q.offset
	spec.Cursor = q.cursor
	return spec, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseCondition parses "field=value", "field!=value", "field IN a,b"
// and "field NOT IN a,b".
func parseCondition(s string) (types.Condition, error) {
	for _, op := range []types.Operator{types.OpNotIn, types.OpIn} {
		sep := " " + string(op) + " "
		if i := strings.Index(s, sep); i > 0 {
			return types.Condition{
				Field: strings.TrimSpace(s[:i]),
				Op:    op,
				Value: splitList(s[i+len(sep):]),
			}, nil
		}
	}
	if i := strings.Index(s, "!="); i > 0 {
		return types.Condition{Field: strings.TrimSpace(s[:i]), Op: types.OpNotEq, Value: strings.TrimSpace(s[i+2:])}, nil
	}
	if i := strings.Index(s, "="); i > 0 {
		return types.Condition{Field: strings.TrimSpace(s[:i]), Op: types.OpEq, Value: strings.TrimSpace(s[i+1:])}, nil
	}
	return types.Condition{}, fmt.Errorf("invalid condition %q", s)
}

func parseOrdering(s string) []types.Ordering {
	var order []types.Ordering
	for _, key := range splitList(s) {
		if strings.HasPrefix(key, "-") {
			order = append(order, types.Ordering{Field: key[1:], Desc: true})
			continue
		}
		order = append(order, types.Ordering{Field: key})
	}
	return order
}
