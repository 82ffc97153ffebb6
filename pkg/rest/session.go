package rest

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// sessionQueue runs session-scoped requests one at a time in arrival order
type sessionQueue struct {
	mu      sync.Mutex
	waiters []*sessionTicket
}

type sessionTicket struct {
	q       *sessionQueue
	ready   chan struct{}
	ctx     context.Context
	cancel  context.CancelCauseFunc
	dropped error
}

func (q *sessionQueue) acquire(ctx context.Context) (*sessionTicket, error) {
	tctx, cancel := context.WithCancelCause(ctx)
	t := &sessionTicket{q: q, ready: make(chan struct{}), ctx: tctx, cancel: cancel}

	q.mu.Lock()
	q.waiters = append(q.waiters, t)
	if len(q.waiters) == 1 {
		close(t.ready)
	}
	q.mu.Unlock()

	select {
	case <-t.ready:
		q.mu.Lock()
		err := t.dropped
		q.mu.Unlock()
		if err != nil {
			cancel(err)
			return nil, err
		}
		return t, nil
	case <-ctx.Done():
		t.release()
		return nil, ctx.Err()
	}
}

// release removes the ticket and hands the turn to the next waiter
func (t *sessionTicket) release() {
	q := t.q
	q.mu.Lock()
	idx := slices.Index(q.waiters, t)
	if idx >= 0 {
		q.waiters = slices.Delete(q.waiters, idx, idx+1)
		if idx == 0 && len(q.waiters) > 0 {
			close(q.waiters[0].ready)
		}
	}
	q.mu.Unlock()
	t.cancel(nil)
}

func (q *sessionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// drop aborts the in-flight request and rejects every queued one in order
func (q *sessionQueue) drop(reason string) int {
	err := ErrConnectionClosed
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrConnectionClosed, reason)
	}

	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	for _, t := range waiters[min(1, len(waiters)):] {
		t.dropped = err
	}
	q.mu.Unlock()

	for i, t := range waiters {
		if i == 0 {
			t.cancel(err)
			continue
		}
		close(t.ready)
	}
	return len(waiters)
}
