package partitioned

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/arkilian/eventstore/internal/manifest"
	"github.com/arkilian/eventstore/internal/partition"
	"github.com/arkilian/eventstore/internal/query"
	"github.com/arkilian/eventstore/pkg/types"
)

// tagValueSQL reads one tag, bound as a JSON path argument. A tag missing
// from a row compares as the empty string.
const tagValueSQL = "COALESCE(json_extract(tags, ?), '')"

// compile renders the per-partition SQL for a query. Every partition returns
// at most Offset+Limit rows in query order; the global window is applied
// after the merge. tableColumns are the partition's own columns; those
// outside the logical schema are selected as well and pass through.
//
// Only schema columns are embedded as identifiers; everything else is bound.
func compile(q *query.Query, tableColumns []string) (string, []interface{}, error) {
	columns, err := selectColumns(q, tableColumns)
	if err != nil {
		return "", nil, err
	}

	where := sq.And{sq.Eq{types.ColumnProjectID: q.ProjectIDs}}
	if len(q.GroupIDs) > 0 {
		where = append(where, sq.Eq{types.ColumnGroupID: q.GroupIDs})
	}
	if len(q.EventIDs) > 0 {
		where = append(where, sq.Eq{types.ColumnEventID: q.EventIDs})
	}
	if !q.Start.IsZero() {
		where = append(where, sq.GtOrEq{types.ColumnTimestamp: q.Start.Unix()})
	}
	if !q.End.IsZero() {
		where = append(where, sq.Lt{types.ColumnTimestamp: q.End.Unix()})
	}
	for _, p := range q.Predicates {
		cond, err := predicateSQL(p)
		if err != nil {
			return "", nil, err
		}
		where = append(where, cond)
	}
	if q.After != nil {
		where = append(where, sq.Or{
			sq.Lt{types.ColumnTimestamp: q.After.Timestamp},
			sq.And{
				sq.Eq{types.ColumnTimestamp: q.After.Timestamp},
				sq.Gt{types.ColumnEventID: q.After.EventID},
			},
		})
	}

	orderBy := make([]string, len(q.OrderBy))
	for i, o := range q.OrderBy {
		if !query.IsSortable(o.Field) {
			return "", nil, fmt.Errorf("partitioned: cannot order by %q", o.Field)
		}
		if o.Desc {
			orderBy[i] = o.Field + " DESC"
		} else {
			orderBy[i] = o.Field + " ASC"
		}
	}

	return sq.Select(columns...).
		From(partition.TableName).
		Where(where).
		OrderBy(orderBy...).
		Limit(uint64(q.Offset + q.Limit)).
		ToSql()
}

// selectColumns returns the query's columns, any sort key it omits (the
// merge needs it) and the partition's columns outside the schema.
func selectColumns(q *query.Query, tableColumns []string) ([]string, error) {
	cols := make([]string, 0, len(q.Columns)+len(q.OrderBy))
	for _, c := range q.Columns {
		if !query.IsColumn(c) {
			return nil, fmt.Errorf("partitioned: unknown column %q", c)
		}
		cols = append(cols, c)
	}
	for _, o := range q.OrderBy {
		if !q.HasColumn(o.Field) {
			cols = append(cols, o.Field)
		}
	}
	for _, c := range tableColumns {
		if !query.IsColumn(c) {
			cols = append(cols, quoteIdent(c))
		}
	}
	return cols, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// predicateSQL renders a condition.
func predicateSQL(p query.Predicate) (sq.Sqlizer, error) {
	switch p.Column {
	case types.ColumnPlatform, types.ColumnType:
	case types.ColumnTags:
		return tagPredicateSQL(p)
	default:
		return nil, fmt.Errorf("partitioned: unsupported condition column %q", p.Column)
	}

	column := p.Column
	switch p.Op {
	case types.OpEq:
		return sq.Eq{column: p.Values[0]}, nil
	case types.OpNotEq:
		return sq.NotEq{column: p.Values[0]}, nil
	case types.OpIn:
		return sq.Eq{column: p.Values}, nil
	case types.OpNotIn:
		return sq.NotEq{column: p.Values}, nil
	default:
		return nil, fmt.Errorf("partitioned: unsupported operator %q", p.Op)
	}
}

func tagPredicateSQL(p query.Predicate) (sq.Sqlizer, error) {
	if !query.ValidTagKey(p.Key) {
		return nil, fmt.Errorf("partitioned: invalid tag key %q", p.Key)
	}
	args := make([]interface{}, 0, len(p.Values)+1)
	args = append(args, `$."`+p.Key+`"`)
	for _, v := range p.Values {
		args = append(args, v)
	}

	switch p.Op {
	case types.OpEq:
		return sq.Expr(tagValueSQL+" = ?", args...), nil
	case types.OpNotEq:
		return sq.Expr(tagValueSQL+" <> ?", args...), nil
	case types.OpIn, types.OpNotIn:
		if len(p.Values) == 0 {
			if p.Op == types.OpIn {
				return sq.Expr("(1=0)"), nil
			}
			return sq.Expr("(1=1)"), nil
		}
		op := " IN "
		if p.Op == types.OpNotIn {
			op = " NOT IN "
		}
		return sq.Expr(tagValueSQL+op+"("+sq.Placeholders(len(p.Values))+")", args...), nil
	default:
		return nil, fmt.Errorf("partitioned: unsupported operator %q", p.Op)
	}
}

// filterFor extracts what the manifest can prune on.
func filterFor(q *query.Query) manifest.Filter {
	f := manifest.Filter{
		ProjectIDs: q.ProjectIDs,
		GroupIDs:   q.GroupIDs,
		EventIDs:   q.EventIDs,
	}
	if !q.Start.IsZero() {
		f.Start = q.Start.Unix()
	}
	if !q.End.IsZero() {
		f.End = q.End.Unix()
	}
	return f
}
