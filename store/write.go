package store

import (
	"context"

	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/livestore/db"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/notify"
)

type writeFunc func(sess db.Session) (notify.Event, error)

// write runs fn in the transaction carried by ctx, buffering its event in
// the transaction scope, or as its own autocommit statement, publishing
// its event immediately. Writes that change no rows publish nothing.
func (s *Store) write(ctx context.Context, fn writeFunc) error {
	sess, tx := s.session(ctx)

	ev, err := fn(sess)
	if err != nil {
		return err
	}
	if ev.Affected == 0 {
		return nil
	}

	if tx != nil {
		return tx.scope.Record(ev)
	}

	s.hub.Publish(notify.Batch{Events: []notify.Event{ev}})
	return nil
}

// Insert writes a new record. A generated key is assigned to rec.
func (s *Store) Insert(ctx context.Context, rec *entity.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.insert(ctx, rec)
}

func (s *Store) insert(ctx context.Context, rec *entity.Record) error {
	return s.write(ctx, func(sess db.Session) (notify.Event, error) {
		edits := rec.Edits()
		if err := sess.Insert(ctx, rec); err != nil {
			return notify.Event{}, err
		}
		rec.MarkSaved(edits)
		return singleRow(rec, notify.OpInsert, rec.Values()), nil
	})
}

// Update writes every field of rec to the row with its key
func (s *Store) Update(ctx context.Context, rec *entity.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.update(ctx, rec)
}

func (s *Store) update(ctx context.Context, rec *entity.Record) error {
	return s.write(ctx, func(sess db.Session) (notify.Event, error) {
		edits := rec.Edits()
		if err := sess.Update(ctx, rec); err != nil {
			return notify.Event{}, err
		}
		rec.MarkSaved(edits)
		return singleRow(rec, notify.OpUpdate, rec.Values()), nil
	})
}

// Delete removes the row with rec's key. Rows of related types that
// reference it are removed by the database cascade.
func (s *Store) Delete(ctx context.Context, rec *entity.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.delete(ctx, rec)
}

func (s *Store) delete(ctx context.Context, rec *entity.Record) error {
	return s.write(ctx, func(sess db.Session) (notify.Event, error) {
		if err := sess.Delete(ctx, rec); err != nil {
			return notify.Event{}, err
		}
		return singleRow(rec, notify.OpDelete, nil), nil
	})
}

// DeleteWhere removes every row of entityType matching where and returns
// how many were removed
func (s *Store) DeleteWhere(ctx context.Context, entityType string, where ...exp.Expression) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	err := s.write(ctx, func(sess db.Session) (notify.Event, error) {
		var err error
		n, err = sess.DeleteWhere(ctx, entityType, where...)
		if err != nil {
			return notify.Event{}, err
		}
		return notify.Event{Type: entityType, Op: notify.OpBulkDelete, Affected: n}, nil
	})
	return n, err
}

// UpdateWhere assigns set on every row of entityType matching where and
// returns how many were changed
func (s *Store) UpdateWhere(ctx context.Context, entityType string, set map[string]entity.Value, where ...exp.Expression) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	err := s.write(ctx, func(sess db.Session) (notify.Event, error) {
		var err error
		n, err = sess.UpdateWhere(ctx, entityType, set, where...)
		if err != nil {
			return notify.Event{}, err
		}
		return notify.Event{Type: entityType, Op: notify.OpBulkUpdate, Affected: n}, nil
	})
	return n, err
}

func singleRow(rec *entity.Record, op notify.Op, values map[string]entity.Value) notify.Event {
	return notify.Event{
		Type:     rec.Type().Name,
		Op:       op,
		Affected: 1,
		Changes: []notify.Change{{
			Op:     op,
			Key:    rec.Key(),
			Values: values,
			Record: rec,
		}},
	}
}
