package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/query"
)

// Session is the set of data operations available both outside and inside
// a transaction. *Store and *Tx implement it.
type Session interface {
	Insert(ctx context.Context, rec *entity.Record) error
	Update(ctx context.Context, rec *entity.Record) error
	Delete(ctx context.Context, rec *entity.Record) error
	DeleteWhere(ctx context.Context, entityType string, where ...exp.Expression) (int64, error)
	UpdateWhere(ctx context.Context, entityType string, set map[string]entity.Value, where ...exp.Expression) (int64, error)
	Get(ctx context.Context, entityType string, key entity.Value) (*entity.Record, error)
	Select(ctx context.Context, q query.Query) ([]*entity.Record, error)
	Count(ctx context.Context, q query.Query) (int64, error)
	Iterate(ctx context.Context, q query.Query) (*Cursor, error)
}

var (
	_ Session = (*Store)(nil)
	_ Session = (*Tx)(nil)
)

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ops struct {
	ex    execer
	model *entity.Model
}

func (o ops) typeOf(name string) (*entity.Type, error) {
	t, ok := o.model.Type(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %s", name)
	}
	return t, nil
}

func (o ops) recordType(rec *entity.Record) (*entity.Type, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil record")
	}
	t, err := o.typeOf(rec.Type().Name)
	if err != nil {
		return nil, err
	}
	if t != rec.Type() {
		return nil, fmt.Errorf("record type %s does not belong to this model", t.Name)
	}
	return t, nil
}

// Insert writes a new row. A NULL generated key is assigned from the database.
func (o ops) Insert(ctx context.Context, rec *entity.Record) error {
	t, err := o.recordType(rec)
	if err != nil {
		return err
	}

	key := t.KeyField()
	row := goqu.Record{}
	for name, v := range rec.Values() {
		if name == key.Name && v.IsNull() {
			if !key.Generated {
				return fmt.Errorf("insert %s: key %s is required", t.Name, key.Name)
			}
			continue
		}
		row[name] = v.Driver()
	}

	stmt, args, err := query.Dialect.Insert(t.Name).Prepared(true).Rows(row).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", t.Name, err)
	}

	res, err := o.ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.Name, err)
	}

	if key.Generated && rec.Key().IsNull() {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s: read generated key: %w", t.Name, err)
		}
		rec.SetKey(entity.Int(id))
	}
	return nil
}

// Update writes every non-key field of rec to the row with its key
func (o ops) Update(ctx context.Context, rec *entity.Record) error {
	t, err := o.recordType(rec)
	if err != nil {
		return err
	}

	keyVal := rec.Key()
	if keyVal.IsNull() {
		return fmt.Errorf("update %s: record has no key", t.Name)
	}

	key := t.KeyField()
	set := goqu.Record{}
	for name, v := range rec.Values() {
		if name == key.Name {
			continue
		}
		set[name] = v.Driver()
	}
	if len(set) == 0 {
		// Key-only types still have to prove the row exists
		set[key.Name] = goqu.C(key.Name)
	}

	stmt, args, err := query.Dialect.Update(t.Name).Prepared(true).
		Set(set).
		Where(goqu.C(key.Name).Eq(keyVal.Driver())).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update %s: %w", t.Name, err)
	}

	return o.execOne(ctx, "update", t, stmt, args)
}

// Delete removes the row with rec's key
func (o ops) Delete(ctx context.Context, rec *entity.Record) error {
	t, err := o.recordType(rec)
	if err != nil {
		return err
	}

	keyVal := rec.Key()
	if keyVal.IsNull() {
		return fmt.Errorf("delete %s: record has no key", t.Name)
	}

	stmt, args, err := query.Dialect.Delete(t.Name).Prepared(true).
		Where(goqu.C(t.KeyField().Name).Eq(keyVal.Driver())).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", t.Name, err)
	}

	return o.execOne(ctx, "delete", t, stmt, args)
}

func (o ops) execOne(ctx context.Context, verb string, t *entity.Type, stmt string, args []any) error {
	res, err := o.ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, t.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, t.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", verb, t.Name, ErrNotFound)
	}
	return nil
}

// DeleteWhere removes every row of entityType matching where and returns the row count
func (o ops) DeleteWhere(ctx context.Context, entityType string, where ...exp.Expression) (int64, error) {
	t, err := o.typeOf(entityType)
	if err != nil {
		return 0, err
	}

	ds := query.Dialect.Delete(t.Name).Prepared(true)
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	stmt, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete %s: %w", t.Name, err)
	}

	return o.execCount(ctx, "delete", t, stmt, args)
}

// UpdateWhere assigns set on every row of entityType matching where
func (o ops) UpdateWhere(ctx context.Context, entityType string, set map[string]entity.Value, where ...exp.Expression) (int64, error) {
	t, err := o.typeOf(entityType)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("update %s: nothing to set", t.Name)
	}

	rec := goqu.Record{}
	for name, v := range set {
		f, ok := t.Field(name)
		if !ok {
			return 0, fmt.Errorf("update %s: unknown field %s", t.Name, name)
		}
		if f.Key {
			return 0, fmt.Errorf("update %s: key field %s cannot be updated in bulk", t.Name, name)
		}
		if v.Kind() != f.Kind {
			return 0, fmt.Errorf("update %s: %s is %s, got %s", t.Name, name, f.Kind, v.Kind())
		}
		rec[name] = v.Driver()
	}

	ds := query.Dialect.Update(t.Name).Prepared(true).Set(rec)
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	stmt, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build update %s: %w", t.Name, err)
	}

	return o.execCount(ctx, "update", t, stmt, args)
}

func (o ops) execCount(ctx context.Context, verb string, t *entity.Type, stmt string, args []any) (int64, error) {
	res, err := o.ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", verb, t.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", verb, t.Name, err)
	}
	return n, nil
}

// Get loads one record by key
func (o ops) Get(ctx context.Context, entityType string, key entity.Value) (*entity.Record, error) {
	t, err := o.typeOf(entityType)
	if err != nil {
		return nil, err
	}

	recs, err := o.Select(ctx, query.From(t.Name).Where(goqu.C(t.KeyField().Name).Eq(key.Driver())).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("get %s %s: %w", t.Name, key, ErrNotFound)
	}
	return recs[0], nil
}

// Select materializes every row of q
func (o ops) Select(ctx context.Context, q query.Query) ([]*entity.Record, error) {
	cur, err := o.Iterate(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []*entity.Record
	for cur.Next() {
		rec, err := cur.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many rows q selects
func (o ops) Count(ctx context.Context, q query.Query) (int64, error) {
	if _, err := o.typeOf(q.EntityType()); err != nil {
		return 0, err
	}

	stmt, args, err := q.CountSQL()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := o.ex.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.EntityType(), err)
	}
	return n, nil
}

// Iterate opens a forward-only cursor over q. The caller must Close it.
func (o ops) Iterate(ctx context.Context, q query.Query) (*Cursor, error) {
	t, err := o.typeOf(q.EntityType())
	if err != nil {
		return nil, err
	}

	stmt, args, err := q.SelectSQL(t.Columns())
	if err != nil {
		return nil, err
	}

	rows, err := o.ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}
	return newCursor(rows, t), nil
}
