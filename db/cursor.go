package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/maxpert/livestore/entity"
)

// Cursor walks the rows of a query one record at a time
type Cursor struct {
	rows *sql.Rows
	typ  *entity.Type
	dest []any

	closeOnce sync.Once
	closeErr  error
}

func newCursor(rows *sql.Rows, t *entity.Type) *Cursor {
	dest := make([]any, len(t.Fields))
	for i := range dest {
		dest[i] = new(any)
	}
	return &Cursor{rows: rows, typ: t, dest: dest}
}

// Next advances to the next row; false at the end or on error
func (c *Cursor) Next() bool {
	return c.rows.Next()
}

// Record decodes the current row
func (c *Cursor) Record() (*entity.Record, error) {
	if err := c.rows.Scan(c.dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.typ.Name, err)
	}

	rec := entity.NewRecord(c.typ)
	vals := make(map[string]entity.Value, len(c.typ.Fields))
	for i, f := range c.typ.Fields {
		v, err := entity.Decode(f.Kind, *(c.dest[i].(*any)))
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", c.typ.Name, f.Name, err)
		}
		vals[f.Name] = v
	}
	rec.Replace(vals)
	return rec, nil
}

// Err reports the iteration error, if any
func (c *Cursor) Err() error {
	return c.rows.Err()
}

// Close releases the connection held by the cursor. Safe to call more than once.
func (c *Cursor) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rows.Close()
	})
	return c.closeErr
}
