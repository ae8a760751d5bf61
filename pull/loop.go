package pull

import (
	"context"
	"fmt"

	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

func (s *Subscription) loop(ctx context.Context) {
	var cur Cursor
	defer func() {
		if cur != nil {
			if err := cur.Close(); err != nil {
				log.Warn().Err(err).Str("id", s.ID).Msg("Failed to close pull cursor")
			}
		}
		s.cancelCtx()
		close(s.done)
		if s.opts.OnDone != nil {
			s.opts.OnDone(s)
		}
	}()

	// primed means the cursor sits on a row that has not been delivered yet
	primed := false

	for {
		n, ok := s.await(ctx)
		if !ok {
			s.finishFatal()
			return
		}

		if cur == nil {
			c, err := s.opener(ctx, s.Query)
			if err != nil {
				s.fail(fmt.Errorf("open cursor: %w", err))
				return
			}
			cur = c
		}

		for i := int64(0); i < n; i++ {
			if !s.open() {
				s.finishFatal()
				return
			}

			if !primed && !s.advance(cur) {
				return
			}
			primed = false

			rec, err := cur.Record()
			if err != nil {
				s.fail(err)
				return
			}

			if !s.call(func() { s.handler.OnNext(rec) }) {
				return
			}
			s.delivered.Add(1)
			telemetry.PullRowsDeliveredTotal.Inc()

			// Look ahead so completion is signalled without further demand
			if !s.advance(cur) {
				return
			}
			primed = true
		}
	}
}

// advance moves the cursor, ending the stream when it is exhausted or fails
func (s *Subscription) advance(cur Cursor) bool {
	if cur.Next() {
		return true
	}
	if err := cur.Err(); err != nil {
		s.fail(err)
		return false
	}
	s.complete()
	return false
}

// await blocks until there is demand, taking at most one batch of it.
// false means the stream must stop.
func (s *Subscription) await(ctx context.Context) (int64, bool) {
	for {
		s.mu.Lock()
		if s.state != StateOpen || s.fatal != nil {
			s.mu.Unlock()
			return 0, false
		}
		if s.demand > 0 {
			n := s.demand
			if n > int64(s.opts.BatchSize) {
				n = int64(s.opts.BatchSize)
			}
			s.demand -= n
			s.mu.Unlock()
			return n, true
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			s.mu.Lock()
			if s.state == StateOpen {
				s.state = StateCancelled
			}
			s.mu.Unlock()
			return 0, false
		}
	}
}

// finishFatal delivers a pending terminal error, such as invalid demand
func (s *Subscription) finishFatal() {
	s.mu.Lock()
	fatal := s.fatal
	if fatal == nil || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.fatal = nil
	s.state = StateCancelled
	s.err = fatal
	s.mu.Unlock()

	s.call(func() { s.handler.OnError(fatal) })
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.state != StateOpen {
		// Cursor errors after cancel are the cancel itself
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.err = err
	s.mu.Unlock()

	log.Warn().Err(err).Str("id", s.ID).Int64("delivered", s.Delivered()).Msg("Pull stream failed")
	s.call(func() { s.handler.OnError(err) })
}

func (s *Subscription) complete() {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.mu.Unlock()

	log.Debug().Str("id", s.ID).Int64("delivered", s.Delivered()).Msg("Pull stream completed")
	s.call(s.handler.OnComplete)
}

// call runs a handler callback, converting a panic into a cancelled stream
func (s *Subscription) call(fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			lerr := &notify.ListenerError{
				Listener: "pull:" + s.ID,
				Err:      fmt.Errorf("%v", p),
				Panic:    true,
			}
			s.mu.Lock()
			s.state = StateCancelled
			s.err = lerr
			s.mu.Unlock()
			s.opts.Reporter(lerr)
			ok = false
		}
	}()
	fn()
	return true
}
