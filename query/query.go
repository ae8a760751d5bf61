// Package query describes what a live query or pull stream reads: one entity
// type, an optional filter, ordering, limit and offset. Descriptors are
// immutable values rendered to SQLite SQL through goqu.
package query

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

// Dialect is the goqu dialect shared by every SQL statement the store renders
var Dialect = goqu.Dialect("sqlite3")

// Query is a read descriptor. The zero Limit means "no limit".
type Query struct {
	entityType string
	where      []exp.Expression
	order      []exp.OrderedExpression
	limit      uint
	offset     uint
}

// From starts a query over an entity type
func From(entityType string) Query {
	return Query{entityType: entityType}
}

// Where appends filter expressions, combined with AND
func (q Query) Where(exps ...exp.Expression) Query {
	q.where = append(append([]exp.Expression(nil), q.where...), exps...)
	return q
}

// OrderBy appends ordering terms
func (q Query) OrderBy(order ...exp.OrderedExpression) Query {
	q.order = append(append([]exp.OrderedExpression(nil), q.order...), order...)
	return q
}

func (q Query) Limit(n uint) Query {
	q.limit = n
	return q
}

func (q Query) Offset(n uint) Query {
	q.offset = n
	return q
}

func (q Query) EntityType() string             { return q.entityType }
func (q Query) Filters() []exp.Expression      { return q.where }
func (q Query) Order() []exp.OrderedExpression { return q.order }
func (q Query) LimitValue() uint               { return q.limit }

func (q Query) dataset() *goqu.SelectDataset {
	ds := Dialect.From(q.entityType).Prepared(true)
	if len(q.where) > 0 {
		ds = ds.Where(q.where...)
	}
	return ds
}

// SelectSQL renders the SELECT for the given columns
func (q Query) SelectSQL(columns []string) (string, []any, error) {
	if q.entityType == "" {
		return "", nil, fmt.Errorf("query has no entity type")
	}

	cols := make([]any, len(columns))
	for i, c := range columns {
		if c == "*" {
			cols[i] = goqu.Star()
			continue
		}
		cols[i] = goqu.C(c)
	}

	ds := q.dataset().Select(cols...)
	if len(q.order) > 0 {
		ds = ds.Order(q.order...)
	}
	if q.limit > 0 {
		ds = ds.Limit(q.limit)
	}
	if q.offset > 0 {
		ds = ds.Offset(q.offset)
	}
	return ds.ToSQL()
}

// CountSQL renders a COUNT(*) honoring filter, limit and offset
func (q Query) CountSQL() (string, []any, error) {
	if q.entityType == "" {
		return "", nil, fmt.Errorf("query has no entity type")
	}

	if q.limit == 0 && q.offset == 0 {
		return q.dataset().Select(goqu.COUNT(goqu.Star())).ToSQL()
	}

	// LIMIT applies to rows, so count over a limited subselect
	inner := q.dataset().Select(goqu.L("1"))
	if q.limit > 0 {
		inner = inner.Limit(q.limit)
	}
	if q.offset > 0 {
		inner = inner.Offset(q.offset)
	}
	return Dialect.From(inner.As("limited")).Prepared(true).Select(goqu.COUNT(goqu.Star())).ToSQL()
}

// Fingerprint identifies a descriptor by its rendered SQL and arguments.
// Two descriptors with the same fingerprint read the same rows.
func (q Query) Fingerprint() uint64 {
	sql, args, err := q.SelectSQL([]string{"*"})
	if err != nil {
		return 0
	}
	var b strings.Builder
	b.WriteString(sql)
	for _, a := range args {
		fmt.Fprintf(&b, "|%v", a)
	}
	return xxhash.Sum64String(b.String())
}

func (q Query) String() string {
	sql, args, err := q.SelectSQL([]string{"*"})
	if err != nil {
		return fmt.Sprintf("query(%s): %v", q.entityType, err)
	}
	return fmt.Sprintf("%s %v", sql, args)
}
