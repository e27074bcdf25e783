package pending

import (
	"context"
	"fmt"
	"time"
	tnterrors "tntpending/lib/errors"
	"tntpending/lib/pconn"
	"tntpending/lib/slog"
)

// OnIdleFunc is invoked whenever a readiness wait times out with zero
// events.
type OnIdleFunc[ID comparable, R any] func(set *Set[ID, R])

// Set is a keyed collection of Items driven forward as a group: send
// starts or retries eligible items, wait multiplexes readiness across
// the union of their connections with a per-iteration timeout, and recv
// advances items whose connections became ready. Work composes these
// into iter and drives iter to completion or to the set's overall
// deadline.
//
// A Set must only be driven by one goroutine at a time (the one calling
// Work); callbacks invoked from within Work run synchronously on that
// goroutine and must not perform unbounded blocking I/O themselves.
type Set[ID comparable, R any] struct {
	Name     string
	MaxTime  time.Duration
	IterTime time.Duration
	OnIdle   OnIdleFunc[ID, R]

	// Logger receives one aggregated diagnostic per finish sweep that
	// drains more than one item as a timeout; it is never consulted for
	// individual item failures, which are always surfaced to the caller
	// through that item's own OnError. May be nil.
	Logger slog.Logger

	items  map[ID]*Item[ID, R]
	events chan workerEvent[ID, R]
}

// NewSet creates a new, empty Set.
func NewSet[ID comparable, R any](name string, maxTime, iterTime time.Duration, onIdle OnIdleFunc[ID, R]) *Set[ID, R] {
	return &Set[ID, R]{
		Name:     name,
		MaxTime:  maxTime,
		IterTime: iterTime,
		OnIdle:   onIdle,
		items:    make(map[ID]*Item[ID, R]),
		events:   make(chan workerEvent[ID, R]),
	}
}

// Len returns the number of items currently in the set.
func (s *Set[ID, R]) Len() int {
	return len(s.items)
}

// Add installs items in the set. It fails, adding none of the items, if
// any id is already present.
func (s *Set[ID, R]) Add(items ...*Item[ID, R]) error {
	for _, item := range items {
		if _, exists := s.items[item.ID]; exists {
			return fmt.Errorf("pending: %s: item %v already present", s.Name, item.ID)
		}
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return nil
}

// Remove removes items from the set. It fails, removing none of the
// items, if any id is absent.
func (s *Set[ID, R]) Remove(items ...*Item[ID, R]) error {
	for _, item := range items {
		if _, exists := s.items[item.ID]; !exists {
			return fmt.Errorf("pending: %s: item %v not present", s.Name, item.ID)
		}
	}
	for _, item := range items {
		delete(s.items, item.ID)
	}
	return nil
}

// send runs the start-or-retry sweep over all sleeping items.
func (s *Set[ID, R]) send(ctx context.Context, now time.Time) {
	for id, item := range s.items {
		if !item.IsSleeping() {
			continue
		}

		if item.Try >= item.Retry {
			delete(s.items, id)
			reason := fmt.Errorf("%w: tried %d of %d", ErrNoSuccessAfterRetries, item.Try, item.Retry)
			if item.OnError != nil {
				item.OnError(id, reason, item, s)
			}
			continue
		}

		if !item.IsTimeout(now) {
			continue // retry_delay has not yet elapsed; rate-limited retry.
		}

		var cont *pconn.Continuation[R]
		if item.OnRetry != nil {
			cont = item.OnRetry(id, item, s)
		}
		if cont == nil {
			continue // leave sleeping this tick; no attempt consumed.
		}

		item.setPendingMode(now, cont)
		worker := newItemWorker[ID, R](id, item.Try)
		item.worker = worker
		worker.start(ctx, s.events)
		worker.signal(item.continuation)
	}
}

type waitKind int

const (
	waitIdle waitKind = iota
	waitReady
	waitFailed
)

type waitResult[ID comparable, R any] struct {
	kind    waitKind
	results map[ID]pconn.Outcome[R]
}

// wait multiplexes readiness across all currently pending items'
// connections, realized as a fan-in over the Set's shared events
// channel (see itemWorker) bounded by IterTime. This plays the role a
// single select/poll/epoll_wait call over the union of pending file
// descriptors would play in a process driving raw sockets.
//
// ctx cancellation stands in for the "readiness primitive itself
// failed" case: both halt the current Work invocation early, leaving
// finish to drain remaining items as timeouts.
func (s *Set[ID, R]) wait(ctx context.Context) waitResult[ID, R] {
	timer := time.NewTimer(s.IterTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return waitResult[ID, R]{kind: waitFailed}
	case ev := <-s.events:
		results := make(map[ID]pconn.Outcome[R])
		s.stash(results, ev)
		return s.drainReady(results)
	case <-timer.C:
		if s.OnIdle != nil {
			s.OnIdle(s)
		}
		return waitResult[ID, R]{kind: waitIdle}
	}
}

// drainReady gathers any further already-available events without
// blocking, so that one wait cycle can act on a batch of readiness
// events the way a single select() call would return a batch of ready
// descriptors.
func (s *Set[ID, R]) drainReady(results map[ID]pconn.Outcome[R]) waitResult[ID, R] {
	for {
		select {
		case ev := <-s.events:
			s.stash(results, ev)
		default:
			return waitResult[ID, R]{kind: waitReady, results: results}
		}
	}
}

// stash records ev for recv, unless ev is stale: an outcome from an
// attempt the scheduler has already closed (the item retried, finished,
// or left the set since the attempt started) must not be attributed to
// whatever attempt is current.
func (s *Set[ID, R]) stash(results map[ID]pconn.Outcome[R], ev workerEvent[ID, R]) {
	item, exists := s.items[ev.id]
	if !exists || !item.IsPending() || ev.try != item.Try {
		return
	}
	results[ev.id] = ev.outcome
}

// recv drains ready items against the stashed wait results.
func (s *Set[ID, R]) recv(now time.Time, results map[ID]pconn.Outcome[R]) {
	for id, item := range s.items {
		if !item.IsPending() {
			continue
		}

		outcome, ready := results[id]
		if !ready {
			if item.IsTimeout(now) {
				s.closeAndStop(item, now, ErrTimeout.Error())
			}
			continue
		}

		kind, result := item.continueOnce(now, outcome)
		switch kind {
		case continueResultDone:
			delete(s.items, id)
			s.stopWorker(item)
			if item.OnOK != nil {
				item.OnOK(id, result, item, s)
			}
		case continueResultContinuing:
			item.worker.signal(item.continuation)
		case continueResultFailure:
			s.closeAndStop(item, now, ErrReceiveFailed.Error())
		case continueResultReset:
			s.closeAndStop(item, now, ErrConnectionReset.Error())
		}
	}
}

func (s *Set[ID, R]) closeAndStop(item *Item[ID, R], now time.Time, reason string) {
	item.close(now, reason)
	s.stopWorker(item)
}

func (s *Set[ID, R]) stopWorker(item *Item[ID, R]) {
	if item.worker != nil {
		item.worker.stop()
		item.worker = nil
	}
}

type iterOutcome int

const (
	iterContinue iterOutcome = iota
	iterStop
)

// iter runs one scheduling cycle: send, then wait, then (unless the
// cycle was idle or failed) recv.
func (s *Set[ID, R]) iter(ctx context.Context) iterOutcome {
	now := time.Now()
	s.send(ctx, now)

	w := s.wait(ctx)
	switch w.kind {
	case waitFailed:
		return iterStop
	case waitIdle:
		return iterContinue
	default:
		s.recv(time.Now(), w.results)
		return iterContinue
	}
}

// finish drains all remaining non-done items as timeouts, ensuring no
// Item is left pending at the end of Work. Individual item failures are
// still delivered through that item's own OnError; finish additionally
// logs one AggregateError if it drains more than one item in the same
// sweep, since a large simultaneous timeout batch is itself a symptom
// worth a single diagnostic line rather than Len() separate ones.
func (s *Set[ID, R]) finish(now time.Time) {
	drainErrors := make(chan error, len(s.items))
	drained := 0
	for id, item := range s.items {
		if item.IsDone() {
			continue
		}
		delete(s.items, id)
		item.close(now, ErrTimeout.Error())
		s.stopWorker(item)
		drained++
		drainErrors <- fmt.Errorf("shard %v: %w", id, ErrTimeout)
		if item.OnError != nil {
			item.OnError(id, ErrTimeout, item, s)
		}
	}
	close(drainErrors)
	if drained > 1 && s.Logger != nil {
		agg := tnterrors.AggregateErrorFromChannel(drainErrors)
		s.Logger.Warn(&slog.LogRecord{Msg: "finish drained multiple items as timeouts", Error: agg})
	}
}

// Work drives the set to completion or to the set's overall deadline
// (MaxTime), whichever comes first. It never returns an error for
// individual item failures: every item is surfaced via its own OnOK or
// OnError, exactly once.
func (s *Set[ID, R]) Work(ctx context.Context) {
	// Scope a child context to this Work invocation so that worker
	// goroutines whose attempts were abandoned do not outlive it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	for len(s.items) > 0 && time.Since(start) <= s.MaxTime {
		if s.iter(ctx) == iterStop {
			break
		}
	}
	s.finish(time.Now())
}
