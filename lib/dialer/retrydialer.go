package dialer

import (
	"context"
	"errors"
	"time"
	"tntpending/lib/core"
	"tntpending/lib/pconn"
	"tntpending/lib/slog"
)

// NoCandidateReplicas is returned by RetryDialer if there are no
// candidate replicas to dial, or if the DialPolicy rejects every
// candidate offered.
var NoCandidateReplicas = errors.New("no candidate replicas")

// DialPolicy controls which replica to dial, out of a set of candidates
// for one shard.
//
// Multiple goroutines may invoke methods on a DialPolicy simultaneously.
type DialPolicy interface {
	// ChooseBestReplica asks the policy to choose a replica from the
	// given set of candidates. If the policy decides none of the
	// candidates are feasible, it returns an error.
	ChooseBestReplica(candidates core.ReplicaSet) (core.Replica, error)

	// DialFailed informs the policy that a dial attempt failed.
	DialFailed(replica core.Replica, symptom error)

	// DialSucceeded informs the policy that a dial attempt succeeded.
	DialSucceeded(replica core.Replica)

	// ConnectionClosed informs the policy that a connection from a
	// prior successful dial has been closed.
	ConnectionClosed(replica core.Replica)
}

// RetryDialer attempts to dial a candidate replica as selected by a
// configurable DialPolicy. If the dial attempt fails, it informs the
// policy of the failure and asks for the next candidate. RetryDialer
// requires a Timeout, shared across all attempts within one
// DialBestReplica call. If Policy is nil, a PlaceholderDialPolicy is
// used.
//
// Multiple goroutines may invoke methods on a RetryDialer simultaneously.
type RetryDialer struct {
	Logger      slog.Logger
	Timeout     time.Duration
	Policy      DialPolicy
	InnerDialer pconn.Dialer
}

func (d *RetryDialer) policy() DialPolicy {
	if d.Policy == nil {
		return PlaceholderDialPolicy{}
	}
	return d.Policy
}

// DialBestReplica dials the best available candidate, retrying against
// other candidates on failure until one succeeds, the candidate set is
// exhausted, or Timeout elapses.
func (d *RetryDialer) DialBestReplica(ctx context.Context, candidates core.ReplicaSet) (core.Replica, pconn.Connection, error) {
	if len(candidates) == 0 {
		return core.Replica{}, nil, NoCandidateReplicas
	}
	dialCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	policy := d.policy()
	remaining := core.EmptyReplicaSet()
	core.UnionUpdate(remaining, candidates)

	for {
		replica, err := policy.ChooseBestReplica(remaining)
		if err != nil {
			return core.Replica{}, nil, err
		}
		conn, err := d.InnerDialer.DialReplica(dialCtx, replica)
		if err != nil {
			if dialCtxErr := dialCtx.Err(); dialCtxErr != nil {
				d.Logger.Warn(&slog.LogRecord{Msg: "dial timed out", Replica: &replica})
				return core.Replica{}, nil, dialCtxErr
			}
			d.Logger.Warn(&slog.LogRecord{Msg: "dial failed", Replica: &replica, Error: err})
			policy.DialFailed(replica, err)
			delete(remaining, replica)
			continue
		}
		d.Logger.Info(&slog.LogRecord{Msg: "dial succeeded", Replica: &replica})
		policy.DialSucceeded(replica)

		wrapped := &closeNotifyingConnection{
			Connection: conn,
			onClose: func() {
				policy.ConnectionClosed(replica)
			},
		}
		return replica, wrapped, nil
	}
}

// closeNotifyingConnection wraps a Connection so that the DialPolicy
// learns when it is closed, regardless of which reason triggered the
// close.
type closeNotifyingConnection struct {
	pconn.Connection
	onClose func()
}

func (c *closeNotifyingConnection) Close() error {
	defer c.onClose()
	return c.Connection.Close()
}

func (c *closeNotifyingConnection) CloseWithReason(reason string) {
	defer c.onClose()
	c.Connection.CloseWithReason(reason)
}
