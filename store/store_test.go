package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/livequery"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/pull"
	"github.com/maxpert/livestore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testModel(t *testing.T) *entity.Model {
	t.Helper()
	person := entity.NewType("person", []entity.Field{
		{Name: "id", Kind: entity.KindInteger, Key: true, Generated: true},
		{Name: "name", Kind: entity.KindText},
		{Name: "age", Kind: entity.KindInteger, Nullable: true},
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
	opts := DefaultOptions(filepath.Join(t.TempDir(), "live.db"))
	opts.DB.PoolSize = 4
	s, err := Open(context.Background(), testModel(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func person(s *Store, name string, age int64) *entity.Record {
	pt, _ := s.Model().Type("person")
	return entity.NewRecord(pt).
		MustSet("name", entity.Text(name)).
		MustSet("age", entity.Int(age))
}

func phone(s *Store, number string, owner *entity.Record) *entity.Record {
	pt, _ := s.Model().Type("phone")
	rec := entity.NewRecord(pt).MustSet("number", entity.Text(number))
	if owner != nil {
		rec.MustSet("owner", owner.Key())
	}
	return rec
}

// snapshots collects live query results in delivery order
type snapshots struct {
	mu   sync.Mutex
	all  []livequery.Snapshot
	errs []error
}

func (h *snapshots) OnResult(s livequery.Snapshot) {
	h.mu.Lock()
	h.all = append(h.all, s)
	h.mu.Unlock()
}

func (h *snapshots) OnError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *snapshots) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.all)
}

func (h *snapshots) last() livequery.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.all[len(h.all)-1]
}

// counts returns the row count of every delivered snapshot
func (h *snapshots) counts() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.all))
	for i, snap := range h.all {
		out[i] = snap.Count()
	}
	return out
}

// waitSeq waits for a snapshot produced by a commit at or after seq
func (h *snapshots) waitSeq(t *testing.T, seq uint64) livequery.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.len() > 0 && h.last().Seq >= seq
	}, 5*time.Second, 5*time.Millisecond)
	return h.last()
}

// batches counts published mutation batches
type batches struct {
	mu  sync.Mutex
	all []notify.Batch
}

func (b *batches) OnMutation(batch notify.Batch) error {
	b.mu.Lock()
	b.all = append(b.all, batch)
	b.mu.Unlock()
	return nil
}

func (b *batches) list() []notify.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notify.Batch(nil), b.all...)
}

func TestLiveQueryFollowsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := &snapshots{}
	snap, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)
	assert.Equal(t, 0, snap.Count())
	assert.Equal(t, 1, h.len(), "initial snapshot goes to the handler too")

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))
	got := h.waitSeq(t, s.hub.Seq())
	require.Equal(t, 1, got.Count())
	assert.Same(t, ada, got.Records[0])

	ada.MustSet("age", entity.Int(37))
	require.NoError(t, s.Update(ctx, ada))
	got = h.waitSeq(t, s.hub.Seq())
	require.Equal(t, 1, got.Count())
	assert.Equal(t, int64(37), got.Records[0].Get("age").AsInt())

	require.NoError(t, s.Delete(ctx, ada))
	got = h.waitSeq(t, s.hub.Seq())
	assert.Equal(t, 0, got.Count())

	// Each write was observed before the next, so each got its own pass
	assert.Equal(t, 4, h.len())
	assert.Equal(t, []int{0, 1, 1, 0}, h.counts())
}

func TestLiveQueryCoalescesBackToBackWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))
	ada.MustSet("age", entity.Int(37))
	require.NoError(t, s.Update(ctx, ada))
	require.NoError(t, s.Delete(ctx, ada))

	got := h.waitSeq(t, s.hub.Seq())
	assert.Equal(t, 0, got.Count(), "the last pass sees the final state")

	// Writes arriving while a pass is in flight share the next one
	n := h.len()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 4)
	counts := h.counts()
	assert.Equal(t, 0, counts[0])
	assert.Equal(t, 0, counts[n-1])
}

func TestLiveQueryKeepsUnsavedEdits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	// An unrelated commit re-runs the query while ada has an unsaved edit
	ada.MustSet("age", entity.Int(37))
	require.NoError(t, s.Insert(ctx, person(s, "bob", 40)))
	got := h.waitSeq(t, s.hub.Seq())
	require.Equal(t, 2, got.Count())
	assert.Equal(t, int64(37), ada.Get("age").AsInt())
	assert.True(t, ada.Dirty())

	require.NoError(t, s.Update(ctx, ada))
	assert.False(t, ada.Dirty())

	stored, err := s.Get(ctx, "person", ada.Key())
	require.NoError(t, err)
	assert.Same(t, ada, stored)
	assert.Equal(t, int64(37), stored.Get("age").AsInt())

	n, err := s.Count(ctx, query.From("person").Where(goqu.C("age").Eq(37)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFilteredLiveQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person").Where(goqu.C("age").Gte(30)), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	require.NoError(t, s.Insert(ctx, person(s, "young", 10)))
	require.NoError(t, s.Insert(ctx, person(s, "old", 70)))
	got := h.waitSeq(t, s.hub.Seq())
	require.Equal(t, 1, got.Count())
	assert.Equal(t, "old", got.Records[0].Get("name").AsString())
}

func TestRelatedTypeMutationReEvaluates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("phone"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	owner := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, owner))
	h.waitSeq(t, s.hub.Seq())

	require.NoError(t, s.Insert(ctx, phone(s, "555-0100", owner)))
	got := h.waitSeq(t, s.hub.Seq())
	assert.Equal(t, 1, got.Count())

	// The phone row goes with its owner through the cascade
	require.NoError(t, s.Delete(ctx, owner))
	got = h.waitSeq(t, s.hub.Seq())
	assert.Equal(t, 0, got.Count())
}

func TestUnrelatedTypeDoesNotReEvaluate(t *testing.T) {
	m := testModel(t)
	tag := entity.NewType("tag", []entity.Field{{Name: "name", Kind: entity.KindText, Key: true}})
	model, err := entity.NewModel(append(m.Types(), tag)...)
	require.NoError(t, err)

	s, err := Open(context.Background(), model, DefaultOptions(filepath.Join(t.TempDir(), "tags.db")))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	tt, _ := model.Type("tag")
	require.NoError(t, s.Insert(ctx, entity.NewRecord(tt).MustSet("name", entity.Text("x"))))
	require.NoError(t, s.Insert(ctx, person(s, "ada", 1)))
	h.waitSeq(t, s.hub.Seq())

	assert.Equal(t, 2, h.len(), "initial plus the person insert only")
}

func TestTransactionPublishesOneBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &batches{}
	cancel := s.Subscribe("test", b, notify.Filter{})
	defer cancel()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	err = s.Tx(ctx, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			if err := s.Insert(ctx, person(s, "p", int64(i))); err != nil {
				return err
			}
		}
		n, err := s.Count(ctx, query.From("person"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "the transaction sees its own writes")
		return nil
	})
	require.NoError(t, err)

	got := b.list()
	require.Len(t, got, 1)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "person", got[0].Events[0].Type)
	assert.Equal(t, notify.OpInsert, got[0].Events[0].Op)
	assert.Equal(t, int64(3), got[0].Events[0].Affected)
	assert.NotEmpty(t, got[0].TxnID)

	snap := h.waitSeq(t, got[0].Seq)
	assert.Equal(t, 3, snap.Count())
	assert.Equal(t, 2, h.len(), "initial plus one pass for the transaction")

	n, err := s.Count(ctx, query.From("person"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestConcurrentTransactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &batches{}
	defer s.Subscribe("test", b, notify.Filter{})()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	var g errgroup.Group
	for w := 0; w < 3; w++ {
		w := w
		g.Go(func() error {
			return s.Tx(ctx, func(ctx context.Context) error {
				for i := 0; i < 5; i++ {
					if err := s.Insert(ctx, person(s, "p", int64(w*10+i))); err != nil {
						return err
					}
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	got := b.list()
	require.Len(t, got, 3, "one batch per transaction")
	txns := map[string]bool{}
	for i, batch := range got {
		require.Len(t, batch.Events, 1)
		assert.Equal(t, int64(5), batch.Events[0].Affected)
		txns[batch.TxnID] = true
		if i > 0 {
			assert.Greater(t, batch.Seq, got[i-1].Seq)
		}
	}
	assert.Len(t, txns, 3)

	snap := h.waitSeq(t, got[2].Seq)
	assert.Equal(t, 15, snap.Count())
}

func TestInsertUpdateDeleteInOneTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &batches{}
	cancel := s.Subscribe("test", b, notify.Filter{})
	defer cancel()

	h := &snapshots{}
	_, lq, err := s.SubscribeResult(ctx, query.From("person"), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	ada := person(s, "ada", 36)
	require.NoError(t, s.Tx(ctx, func(ctx context.Context) error {
		if err := s.Insert(ctx, ada); err != nil {
			return err
		}
		ada.MustSet("age", entity.Int(37))
		if err := s.Update(ctx, ada); err != nil {
			return err
		}
		return s.Delete(ctx, ada)
	}))

	got := b.list()
	require.Len(t, got, 1)
	require.Len(t, got[0].Events, 1)
	ev := got[0].Events[0]
	assert.Equal(t, notify.OpInsert|notify.OpUpdate|notify.OpDelete, ev.Op)
	assert.Equal(t, int64(3), ev.Affected)
	require.Len(t, ev.Changes, 3)

	snap := h.waitSeq(t, got[0].Seq)
	assert.Equal(t, 0, snap.Count())
	assert.Equal(t, 2, h.len(), "initial plus one pass for the transaction")

	n, err := s.Count(ctx, query.From("person"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok := s.Cached("person", ada.Key())
	assert.False(t, ok, "the delete leaves a tombstone")
	_, err = s.Get(ctx, "person", ada.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRollbackPublishesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &batches{}
	defer s.Subscribe("test", b, notify.Filter{})()

	txCtx, tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Insert(txCtx, person(s, "ghost", 1)))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	assert.Empty(t, b.list())
	n, err := s.Count(ctx, query.From("person"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = tx.Commit()
	assert.Error(t, err)
}

func TestNestedTransactionRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txCtx, tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, _, err = s.Begin(txCtx)
	assert.ErrorIs(t, err, ErrNestedTransaction)
}

func TestEmptyTransactionPublishesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &batches{}
	defer s.Subscribe("test", b, notify.Filter{})()

	require.NoError(t, s.Tx(ctx, func(ctx context.Context) error { return nil }))
	assert.Empty(t, b.list())
}

func TestBulkWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, person(s, "p", int64(i))))
	}

	b := &batches{}
	defer s.Subscribe("test", b, notify.Filter{})()

	n, err := s.UpdateWhere(ctx, "person", map[string]entity.Value{"name": entity.Text("adult")}, goqu.C("age").Gte(3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteWhere(ctx, "person", goqu.C("age").Lt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteWhere(ctx, "person", goqu.C("age").Gt(100))
	require.NoError(t, err)
	assert.Zero(t, n)

	got := b.list()
	require.Len(t, got, 2, "writes that change nothing are not published")
	assert.Equal(t, notify.OpBulkUpdate, got[0].Events[0].Op)
	assert.Equal(t, notify.OpBulkDelete, got[1].Events[0].Op)
	assert.Equal(t, int64(2), got[1].Events[0].Affected)
}

func TestBulkDeleteNotifiesLiveQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Insert(ctx, person(s, "p", int64(i))))
	}

	h := &snapshots{}
	snap, lq, err := s.SubscribeResult(ctx, query.From("person").Where(goqu.C("age").Gte(1)), h)
	require.NoError(t, err)
	defer s.Unsubscribe(lq)
	require.Equal(t, 3, snap.Count())

	n, err := s.DeleteWhere(ctx, "person", goqu.C("age").Lt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got := h.waitSeq(t, s.hub.Seq())
	require.Equal(t, 1, got.Count())
	assert.Equal(t, int64(3), got.Records[0].Get("age").AsInt())
}

func TestIdentityMap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))

	got, err := s.Get(ctx, "person", ada.Key())
	require.NoError(t, err)
	assert.Same(t, ada, got)

	all, err := s.Select(ctx, query.From("person"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Same(t, ada, all[0])

	require.NoError(t, s.Delete(ctx, ada))
	_, err = s.Get(ctx, "person", ada.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMissingKeyOnlyRecord(t *testing.T) {
	m := testModel(t)
	tag := entity.NewType("tag", []entity.Field{{Name: "name", Kind: entity.KindText, Key: true}})
	model, err := entity.NewModel(append(m.Types(), tag)...)
	require.NoError(t, err)

	s, err := Open(context.Background(), model, DefaultOptions(filepath.Join(t.TempDir(), "tags.db")))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	b := &batches{}
	cancel := s.Subscribe("test", b, notify.Filter{})
	defer cancel()

	tt, _ := model.Type("tag")
	missing := entity.NewRecord(tt).MustSet("name", entity.Text("missing"))
	assert.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)
	assert.Empty(t, b.list())

	present := entity.NewRecord(tt).MustSet("name", entity.Text("present"))
	require.NoError(t, s.Insert(ctx, present))
	require.NoError(t, s.Update(ctx, present))
	got := b.list()
	require.Len(t, got, 2)
	assert.Equal(t, notify.OpUpdate, got[1].Events[0].Op)
}

func TestIdentityCachedPeek(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))

	got, ok := s.Cached("person", ada.Key())
	require.True(t, ok)
	assert.Same(t, ada, got)

	_, ok = s.Cached("person", entity.Int(999))
	assert.False(t, ok)
}

func TestIdentityRefreshedByBulkUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ada := person(s, "ada", 36)
	require.NoError(t, s.Insert(ctx, ada))

	_, err := s.UpdateWhere(ctx, "person", map[string]entity.Value{"age": entity.Int(40)})
	require.NoError(t, err)

	got, err := s.Get(ctx, "person", ada.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Get("age").AsInt())
}

func TestPullInBatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Tx(ctx, func(ctx context.Context) error {
		for i := 0; i < 36; i++ {
			if err := s.Insert(ctx, person(s, "p", int64(i))); err != nil {
				return err
			}
		}
		return nil
	}))

	var (
		mu       sync.Mutex
		received []*entity.Record
		sub      *pull.Subscription
	)
	ready := make(chan struct{})
	completed := make(chan struct{})

	handler := pull.HandlerFuncs{
		Next: func(rec *entity.Record) {
			<-ready
			mu.Lock()
			received = append(received, rec)
			n := len(received)
			mu.Unlock()
			if n%10 == 0 {
				sub.Request(10)
			}
		},
		Complete: func() { close(completed) },
	}

	sub, err := s.OpenPull(ctx, query.From("person").OrderBy(goqu.C("age").Asc()), handler)
	require.NoError(t, err)
	close(ready)
	sub.Request(10)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("pull stream did not complete")
	}
	<-sub.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 36)
	for i, rec := range received {
		assert.Equal(t, int64(i), rec.Get("age").AsInt())
	}
	assert.Eventually(t, func() bool { return s.Stats().PullStreams == 0 }, time.Second, 5*time.Millisecond)
}

func TestPullUnknownType(t *testing.T) {
	s := openTestStore(t)
	_, err := s.OpenPull(context.Background(), query.From("nope"), pull.HandlerFuncs{})
	assert.Error(t, err)
}

func TestAsyncWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ada := person(s, "ada", 36)
	rec, err := s.InsertAsync(ctx, ada).Get()
	require.NoError(t, err)
	assert.Same(t, ada, rec)
	assert.False(t, ada.Key().IsNull())

	ada.MustSet("age", entity.Int(50))
	upd := s.UpdateAsync(ctx, ada)
	del := s.DeleteAsync(ctx, ada)

	_, err = upd.Get()
	require.NoError(t, err)
	_, err = del.Get()
	require.NoError(t, err)

	n, err := s.Count(ctx, query.From("person"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.DeleteAsync(ctx, ada).Get()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseRejectsOperations(t *testing.T) {
	s, err := Open(context.Background(), testModel(t), DefaultOptions(filepath.Join(t.TempDir(), "c.db")))
	require.NoError(t, err)
	ctx := context.Background()

	_, tx, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Insert(ctx, person(s, "late", 1)), ErrClosed)
	_, err = s.Select(ctx, query.From("person"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.InsertAsync(ctx, person(s, "late", 1)).Get()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, tx.Rollback(), "abandoned on close")
}

func TestOpenPullRacingClose(t *testing.T) {
	for i := 0; i < 10; i++ {
		s, err := Open(context.Background(), testModel(t), DefaultOptions(filepath.Join(t.TempDir(), "race.db")))
		require.NoError(t, err)

		var (
			mu   sync.Mutex
			subs []*pull.Subscription
		)
		var g errgroup.Group
		g.Go(func() error {
			for {
				sub, err := s.OpenPull(context.Background(), query.From("person"), pull.HandlerFuncs{})
				if err != nil {
					return nil
				}
				mu.Lock()
				subs = append(subs, sub)
				mu.Unlock()
			}
		})

		require.NoError(t, s.Close())
		require.NoError(t, g.Wait())

		// Nothing outlives Close
		mu.Lock()
		for _, sub := range subs {
			select {
			case <-sub.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("pull stream survived Close")
			}
		}
		mu.Unlock()
	}
}

func TestLiveQueryLookup(t *testing.T) {
	s := openTestStore(t)

	_, lq, err := s.SubscribeResult(context.Background(), query.From("person"), livequery.HandlerFuncs{})
	require.NoError(t, err)
	defer s.Unsubscribe(lq)

	info, ok := s.LiveQuery(lq.ID)
	require.True(t, ok)
	assert.Equal(t, "person", info.Type)

	s.Unsubscribe(lq)
	_, ok = s.LiveQuery(lq.ID)
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, lq, err := s.SubscribeResult(ctx, query.From("person"), livequery.HandlerFuncs{})
	require.NoError(t, err)
	defer s.Unsubscribe(lq)
	require.NoError(t, s.Insert(ctx, person(s, "ada", 1)))

	stats := s.Stats()
	assert.Equal(t, 1, stats.LiveQueries)
	assert.Equal(t, uint64(1), stats.LastSeq)
	assert.Equal(t, 1, stats.CachedRecords)
	assert.Len(t, s.LiveQueries(), 1)
}
