package pending

import (
	"context"
	"tntpending/lib/pconn"
)

// workerEvent is one item's outcome, fanned in onto a Set's shared
// events channel by that item's worker goroutine. try records which
// attempt produced the outcome, so the scheduler can discard an event
// from an attempt it has already closed (e.g. a slow continuation that
// reported back after its per-attempt timeout, while a fresh attempt
// for the same item was already in flight).
type workerEvent[ID comparable, R any] struct {
	id      ID
	try     int
	outcome pconn.Outcome[R]
}

// itemWorker drives the blocking side of one Item's continuation in its
// own goroutine, so that the scheduler can wait on many items at once
// without blocking on any single one: the scheduler releases a single
// continuation step to the worker, then collects its result from the
// Set's shared events channel within one itertime window.
//
// release is sent to at most one outstanding task at a time: the
// scheduler must consume a worker's event before signalling it again.
type itemWorker[ID comparable, R any] struct {
	id      ID
	try     int
	release chan pconn.ContinueFunc[R]
}

func newItemWorker[ID comparable, R any](id ID, try int) *itemWorker[ID, R] {
	return &itemWorker[ID, R]{
		id:      id,
		try:     try,
		release: make(chan pconn.ContinueFunc[R], 1),
	}
}

// start launches the worker goroutine. It runs until release is closed
// or ctx is cancelled. The ctx guard on the send matters: a worker whose
// attempt was already closed by the scheduler may finish its
// continuation after Work has returned, with nothing left to receive
// its event.
func (w *itemWorker[ID, R]) start(ctx context.Context, events chan<- workerEvent[ID, R]) {
	go func() {
		for cont := range w.release {
			outcome := cont(ctx)
			select {
			case events <- workerEvent[ID, R]{id: w.id, try: w.try, outcome: outcome}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// signal asks the worker to run one more continuation step.
func (w *itemWorker[ID, R]) signal(cont pconn.ContinueFunc[R]) {
	select {
	case w.release <- cont:
	default:
		// A release is already outstanding; the worker will pick it up.
	}
}

// stop terminates the worker goroutine. It must only be called once.
func (w *itemWorker[ID, R]) stop() {
	close(w.release)
}
