// Package pending implements the pending-request coordination core: a
// retry/timeout state machine per outstanding request (Item) driven
// concurrently by a readiness-multiplexing scheduler (Set).
package pending

import (
	"fmt"
	"runtime"
	"time"
	"tntpending/lib/pconn"
)

// state is the tri-state of an Item: sleeping, pending, or done. It is
// modelled as a tagged variant, not a pair of booleans, so that the
// invariants of the state machine become exhaustiveness checks rather
// than things a caller could violate by setting two flags inconsistently.
type state int

const (
	stateSleeping state = iota
	statePending
	stateDone
)

func (s state) String() string {
	switch s {
	case stateSleeping:
		return "sleeping"
	case statePending:
		return "pending"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OnRetryFunc builds the next attempt for item. Returning nil marks the
// attempt as non-startable this tick (the item stays sleeping and no
// attempt is consumed).
type OnRetryFunc[ID comparable, R any] func(id ID, item *Item[ID, R], set *Set[ID, R]) *pconn.Continuation[R]

// OnOKFunc is delivered once, on final success.
type OnOKFunc[ID comparable, R any] func(id ID, result R, item *Item[ID, R], set *Set[ID, R])

// OnErrorFunc is delivered once, on terminal failure (exhausted retries
// or fatal).
type OnErrorFunc[ID comparable, R any] func(id ID, reason error, item *Item[ID, R], set *Set[ID, R])

// Item is a finite state machine representing one logical request
// against one shard: sleeping -> pending -> done, with zero or more
// sleeping<->pending cycles driven by retries.
//
// An Item must only be mutated by the Set that owns it. Callers
// interact with an Item only through the read-only classifiers
// (IsDone/IsPending/IsSleeping) and through the callbacks they
// installed.
type Item[ID comparable, R any] struct {
	ID ID

	Timeout    time.Duration // Per-attempt deadline, applies while pending.
	RetryDelay time.Duration // Backoff between attempts, applies while sleeping.
	Retry      int           // Maximum number of attempts (inclusive).
	Try        int           // Attempts started so far. Monotonic.

	OnRetry OnRetryFunc[ID, R]
	OnOK    OnOKFunc[ID, R]
	OnError OnErrorFunc[ID, R]

	state        state
	connection   pconn.Connection
	continuation pconn.ContinueFunc[R]
	postprocess  pconn.PostprocessFunc[R]
	time         time.Time

	worker *itemWorker[ID, R]
}

// NewItem constructs an Item in the sleeping state, ready to be added to
// a Set.
func NewItem[ID comparable, R any](id ID, timeout, retryDelay time.Duration, retry int) *Item[ID, R] {
	it := &Item[ID, R]{
		ID:         id,
		Timeout:    timeout,
		RetryDelay: retryDelay,
		Retry:      retry,
		state:      stateSleeping,
		time:       time.Time{},
	}
	// A pending Item that is garbage collected while still pending has
	// leaked an in-flight exchange: its Connection is never closed. This
	// is a programmer error (the Set should have reached done or been
	// drained by finish), so report it loudly rather than leaking
	// silently.
	runtime.SetFinalizer(it, func(it *Item[ID, R]) {
		if it.IsPending() {
			panic(fmt.Sprintf("pending: item %v garbage collected while pending (dangling in-flight exchange)", it.ID))
		}
	})
	return it
}

func (it *Item[ID, R]) IsDone() bool {
	return it.state == stateDone
}

func (it *Item[ID, R]) IsPending() bool {
	return it.state == statePending
}

func (it *Item[ID, R]) IsSleeping() bool {
	return it.state == stateSleeping
}

// IsTimeout reports whether now is more than t past the last state
// transition. If t is not given, it defaults to Timeout while pending,
// or RetryDelay while sleeping.
func (it *Item[ID, R]) IsTimeout(now time.Time, t ...time.Duration) bool {
	var threshold time.Duration
	switch {
	case len(t) > 0:
		threshold = t[0]
	case it.IsPending():
		threshold = it.Timeout
	default:
		threshold = it.RetryDelay
	}
	return now.Sub(it.time) > threshold
}

// setPendingMode transitions it. Called only by the scheduler.
//
// If cont is non-nil, it drops any existing connection/continuation/
// postprocess, installs cont's triple, transitions to pending,
// increments Try, and stamps time. If cont is nil, it transitions to
// sleeping (used after a failed attempt) and stamps time.
func (it *Item[ID, R]) setPendingMode(now time.Time, cont *pconn.Continuation[R]) {
	it.connection = nil
	it.continuation = nil
	it.postprocess = nil

	if cont == nil {
		it.state = stateSleeping
		it.time = now
		return
	}

	it.connection = cont.Connection
	it.continuation = cont.Continue
	it.postprocess = cont.Postprocess
	it.state = statePending
	it.Try++
	it.time = now
}

// continueResultKind classifies what happened when the scheduler drove
// one continuation step on a pending item.
type continueResultKind int

const (
	continueResultDone continueResultKind = iota
	continueResultContinuing
	continueResultFailure
	continueResultReset
)

// continueOnce applies the outcome of one already-executed continuation
// step to it's internal state. It must only be called while it is
// pending, and only by the scheduler (never concurrently with another
// call for the same item).
func (it *Item[ID, R]) continueOnce(now time.Time, outcome pconn.Outcome[R]) (continueResultKind, R) {
	var zero R
	switch outcome.Kind {
	case pconn.OutcomeFailure:
		return continueResultFailure, zero

	case pconn.OutcomeReset:
		return continueResultReset, zero

	case pconn.OutcomeMore:
		if outcome.Next != nil {
			it.connection = outcome.Next.Connection
			it.continuation = outcome.Next.Continue
			it.postprocess = outcome.Next.Postprocess
		}
		it.time = now
		return continueResultContinuing, zero

	case pconn.OutcomeDone:
		result := outcome.Result
		if it.postprocess != nil {
			result = it.postprocess(result)
		}
		it.connection = nil
		it.continuation = nil
		it.postprocess = nil
		it.state = stateDone
		return continueResultDone, result

	default:
		return continueResultFailure, zero
	}
}

// close closes the underlying connection (if pending) with reason, then
// drops the item to sleeping. It is idempotent with respect to
// already-sleeping or already-done items.
func (it *Item[ID, R]) close(now time.Time, reason string) {
	if it.state != statePending {
		return
	}
	if it.connection != nil {
		it.connection.CloseWithReason(reason)
	}
	it.setPendingMode(now, nil)
}
