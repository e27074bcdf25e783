package pending

import "errors"

// Reasons surfaced to OnError, and the close reasons used when an
// attempt is abandoned.
var (
	// ErrNoSuccessAfterRetries is reported when Try reaches Retry while
	// the item is still sleeping.
	ErrNoSuccessAfterRetries = errors.New("no success after retries")

	// ErrTimeout is reported when the overall set deadline (maxtime)
	// expires with the item not done. It is also the close reason used
	// when a per-attempt timeout elapses while the item is pending; that
	// case is not terminal by itself.
	ErrTimeout = errors.New("timeout")

	// ErrReceiveFailed is the close reason used when a continuation
	// reports a recoverable protocol failure. It is not terminal by
	// itself; send decides whether to retry or give up.
	ErrReceiveFailed = errors.New("error while receiving")

	// ErrConnectionReset is the close reason used when a connection is
	// abandoned due to an exceptional condition rather than a protocol
	// failure or timeout.
	ErrConnectionReset = errors.New("connection reset")
)
