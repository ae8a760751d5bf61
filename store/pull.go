package store

import (
	"context"

	"github.com/maxpert/livestore/pull"
	"github.com/maxpert/livestore/query"
)

// OpenPull starts a pull stream over q. Rows are read as the consumer
// requests them and always outside any transaction on ctx.
func (s *Store) OpenPull(ctx context.Context, q query.Query, handler pull.Handler) (*pull.Subscription, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.entityType(q.EntityType()); err != nil {
		return nil, err
	}

	opener := func(ctx context.Context, q query.Query) (pull.Cursor, error) {
		readSeq := s.hub.Seq()
		cur, err := s.db.Iterate(ctx, q)
		if err != nil {
			return nil, err
		}
		return &canonicalCursor{Cursor: cur, s: s, readSeq: readSeq}, nil
	}

	sub := pull.Open(detach(ctx), opener, q, handler, pull.Options{
		BatchSize: s.opts.PullBatchSize,
		OnDone: func(sub *pull.Subscription) {
			s.pulls.Delete(sub.ID)
		},
		Reporter: s.hub.ReportError,
	})

	s.pulls.Store(sub.ID, sub)
	// Close may have swept s.pulls before the stream was tracked
	if s.closed.Load() {
		s.pulls.Delete(sub.ID)
		sub.Cancel()
		<-sub.Done()
		return nil, ErrClosed
	}
	// The stream may have ended before it was tracked
	select {
	case <-sub.Done():
		s.pulls.Delete(sub.ID)
	default:
	}
	return sub, nil
}
