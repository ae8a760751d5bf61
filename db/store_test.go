package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) *entity.Model {
	t.Helper()
	person := entity.NewType("person", []entity.Field{
		{Name: "id", Kind: entity.KindInteger, Key: true, Generated: true},
		{Name: "name", Kind: entity.KindText},
		{Name: "age", Kind: entity.KindInteger, Nullable: true},
		{Name: "score", Kind: entity.KindReal, Nullable: true},
	})
	phone := entity.NewType("phone", []entity.Field{
		{Name: "id", Kind: entity.KindInteger, Key: true, Generated: true},
		{Name: "number", Kind: entity.KindText},
		{Name: "owner", Kind: entity.KindInteger, Nullable: true},
	}, entity.Relation{Field: "owner", Target: "person"})

	m, err := entity.NewModel(person, phone)
	require.NoError(t, err)
	return m
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testModel(t), Options{PoolSize: 4})
	require.NoError(t, err)
	require.NoError(t, s.CreateTables(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newPerson(t *testing.T, s *Store, name string, age int64) *entity.Record {
	t.Helper()
	pt, _ := s.Model().Type("person")
	return entity.NewRecord(pt).
		MustSet("name", entity.Text(name)).
		MustSet("age", entity.Int(age))
}

func TestInsertAssignsGeneratedKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := newPerson(t, s, "ada", 36)
	b := newPerson(t, s, "bob", 20)
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))

	assert.Equal(t, int64(1), a.Key().AsInt())
	assert.Equal(t, int64(2), b.Key().AsInt())

	got, err := s.Get(ctx, "person", entity.Int(1))
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Get("name").AsString())
	assert.Equal(t, int64(36), got.Get("age").AsInt())
	assert.True(t, got.Get("score").IsNull())
}

func TestUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPerson(t, s, "ada", 36)
	require.NoError(t, s.Insert(ctx, p))

	p.MustSet("age", entity.Int(37)).MustSet("score", entity.Real(9.5))
	require.NoError(t, s.Update(ctx, p))

	got, err := s.Get(ctx, "person", p.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(37), got.Get("age").AsInt())
	assert.Equal(t, 9.5, got.Get("score").AsFloat())

	require.NoError(t, s.Delete(ctx, p))
	_, err = s.Get(ctx, "person", p.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, p), ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, p), ErrNotFound)
}

func TestUpdateKeyOnlyType(t *testing.T) {
	tag := entity.NewType("tag", []entity.Field{{Name: "name", Kind: entity.KindText, Key: true}})
	m, err := entity.NewModel(tag)
	require.NoError(t, err)
	s, err := Open(filepath.Join(t.TempDir(), "tags.db"), m, Options{PoolSize: 2})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.CreateTables(ctx))

	missing := entity.NewRecord(tag).MustSet("name", entity.Text("missing"))
	assert.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)

	present := entity.NewRecord(tag).MustSet("name", entity.Text("present"))
	require.NoError(t, s.Insert(ctx, present))
	assert.NoError(t, s.Update(ctx, present))
}

func TestBulkOperations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Insert(ctx, newPerson(t, s, "p", int64(i))))
	}

	n, err := s.UpdateWhere(ctx, "person",
		map[string]entity.Value{"name": entity.Text("old")},
		goqu.C("age").Gte(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	count, err := s.Count(ctx, query.From("person").Where(goqu.C("name").Eq("old")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	n, err = s.DeleteWhere(ctx, "person", goqu.C("age").Lt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err = s.Count(ctx, query.From("person"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	count, err = s.Count(ctx, query.From("person").Limit(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = s.UpdateWhere(ctx, "person", map[string]entity.Value{"id": entity.Int(1)})
	assert.Error(t, err)
	_, err = s.UpdateWhere(ctx, "person", map[string]entity.Value{"age": entity.Text("x")})
	assert.Error(t, err)
	_, err = s.DeleteWhere(ctx, "nobody")
	assert.Error(t, err)
}

func TestSelectOrderAndIterate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "ada", "bob"} {
		require.NoError(t, s.Insert(ctx, newPerson(t, s, name, 30)))
	}

	recs, err := s.Select(ctx, query.From("person").OrderBy(goqu.C("name").Asc()))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "ada", recs[0].Get("name").AsString())
	assert.Equal(t, "carol", recs[2].Get("name").AsString())

	cur, err := s.Iterate(ctx, query.From("person").Where(goqu.C("name").RegexpLike("^b")))
	require.NoError(t, err)
	defer cur.Close()

	var names []string
	for cur.Next() {
		rec, err := cur.Record()
		require.NoError(t, err)
		names = append(names, rec.Get("name").AsString())
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []string{"bob"}, names)
	assert.NoError(t, cur.Close())
	assert.NoError(t, cur.Close())
}

func TestTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, newPerson(t, s, "ghost", 1)))
		require.NoError(t, tx.Rollback())
		assert.NoError(t, tx.Rollback(), "second rollback is a no-op")

		n, err := s.Count(ctx, query.From("person"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("commit keeps writes", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		p := newPerson(t, s, "kept", 1)
		require.NoError(t, tx.Insert(ctx, p))
		require.NoError(t, tx.Commit())
		assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
		assert.True(t, tx.Done())

		_, err = s.Get(ctx, "person", p.Key())
		assert.NoError(t, err)
	})
}

func TestRelationCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := newPerson(t, s, "ada", 36)
	require.NoError(t, s.Insert(ctx, p))

	phoneType, _ := s.Model().Type("phone")
	ph := entity.NewRecord(phoneType).
		MustSet("number", entity.Text("555")).
		MustSet("owner", p.Key())
	require.NoError(t, s.Insert(ctx, ph))

	require.NoError(t, s.Delete(ctx, p))

	n, err := s.Count(ctx, query.From("phone"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRecordFromOtherModelRejected(t *testing.T) {
	s := openTestStore(t)
	other := testModel(t)
	pt, _ := other.Type("person")

	rec := entity.NewRecord(pt).MustSet("name", entity.Text("x"))
	assert.Error(t, s.Insert(context.Background(), rec))
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"), testModel(t), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Begin(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
