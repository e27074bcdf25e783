package pconn

import "context"

// OutcomeKind classifies the result of advancing one protocol step
// through a ContinueFunc.
type OutcomeKind int

const (
	// OutcomeDone indicates the exchange finished; Result holds the
	// final value.
	OutcomeDone OutcomeKind = iota
	// OutcomeMore indicates the protocol needs another read/write
	// round before a final result is available. If Next is set, the
	// caller must install Next's Connection/Continue/Postprocess
	// before attempting the next round (the exchange moved to a new
	// connection); otherwise the caller keeps using the current one.
	// A ContinueFunc that hands back a replacement connection is
	// responsible for disposing of the one it replaced.
	OutcomeMore
	// OutcomeFailure indicates a recoverable protocol-level failure
	// (e.g. a malformed or undecodable response). The caller should
	// close the current connection and may retry the exchange from
	// scratch on a later attempt.
	OutcomeFailure
	// OutcomeReset indicates the connection itself was abruptly torn
	// down (e.g. reset by peer, unexpected EOF) rather than a
	// protocol-level decode failure. It is reported to the caller
	// under a distinct reason than OutcomeFailure.
	OutcomeReset
)

// Outcome is the result of one call to a ContinueFunc: the exchange
// either finished, needs another round, or failed in a way the caller
// may recover from by retrying.
type Outcome[R any] struct {
	Kind   OutcomeKind
	Result R
	Next   *Continuation[R]
	Err    error
}

// Done builds an OutcomeDone outcome.
func Done[R any](result R) Outcome[R] {
	return Outcome[R]{Kind: OutcomeDone, Result: result}
}

// More builds an OutcomeMore outcome. next may be nil, meaning the
// exchange continues on the same Connection and ContinueFunc.
func More[R any](next *Continuation[R]) Outcome[R] {
	return Outcome[R]{Kind: OutcomeMore, Next: next}
}

// Failure builds an OutcomeFailure outcome.
func Failure[R any](err error) Outcome[R] {
	return Outcome[R]{Kind: OutcomeFailure, Err: err}
}

// Reset builds an OutcomeReset outcome.
func Reset[R any](err error) Outcome[R] {
	return Outcome[R]{Kind: OutcomeReset, Err: err}
}

// ContinueFunc advances one protocol step against a Connection. It
// blocks until it has enough bytes to report an Outcome, until ctx is
// done, or until the underlying Connection's deadlines expire.
type ContinueFunc[R any] func(ctx context.Context) Outcome[R]

// PostprocessFunc transforms a final result once, before it is
// delivered to the caller.
type PostprocessFunc[R any] func(result R) R

// Continuation is the triple handed back from an OnRetry callback, or
// from an OutcomeMore's Next field, describing how to advance the next
// leg of an exchange.
type Continuation[R any] struct {
	Connection  Connection
	Continue    ContinueFunc[R]
	Postprocess PostprocessFunc[R]
}
