// Package client is the public façade of the store client: thin command
// builders (Select, Insert, Update, Delete, Call) that construct one
// pending.Item per target shard and drive them to completion through a
// pending.Set. Command shaping (tuple encoding, operator codes) and the
// wire protocol itself are out of scope here and are consumed only as
// opaque RequestBuilder/ResponseDecoder callables, per the pending-request
// core's external-collaborator boundary.
package client

import (
	"crypto/tls"
	"errors"
	"time"

	"tntpending/lib/core"
)

// Config holds the tunables for a Client. It is validated once, at
// construction.
type Config struct {
	// MaxTime bounds how long a single Select/Insert/Update/Delete/Call
	// invocation may take across all its shards combined.
	MaxTime time.Duration

	// IterTime bounds how long one readiness-wait cycle of the scheduler
	// may block.
	IterTime time.Duration

	// AttemptTimeout bounds a single in-flight exchange with a replica.
	AttemptTimeout time.Duration

	// RetryDelay is the backoff between attempts against a shard.
	RetryDelay time.Duration

	// Retry is the maximum number of attempts per shard (inclusive).
	Retry int

	// DialTimeout bounds a single replica dial attempt.
	DialTimeout time.Duration

	// MaxReservationsPerShard bounds how many concurrent in-flight
	// pending items a Client will admit for one shard at a time. Zero
	// means unbounded admission.
	MaxReservationsPerShard int64

	// ProbePeriod, when positive, enables active background probing of
	// every configured replica on that period, keeping health beliefs
	// fresh for replicas with no recent request traffic. Probing is
	// started with Client.StartProbing.
	ProbePeriod time.Duration

	// TLS, when non-nil, dials replicas over TLS with this
	// configuration, verifying each replica's certificate chain and
	// extracting its canonical identity for diagnostics.
	TLS *tls.Config

	// ExpectedIdentities optionally maps a replica to the identity its
	// certificate is expected to carry; a verified replica presenting a
	// different identity is logged as a warning. Only consulted when
	// TLS is set.
	ExpectedIdentities map[core.Replica]core.ReplicaIdentity
}

var (
	ErrMaxTimeNotPositive        = errors.New("client: MaxTime must be positive")
	ErrIterTimeNotPositive       = errors.New("client: IterTime must be positive")
	ErrAttemptTimeoutNotPositive = errors.New("client: AttemptTimeout must be positive")
	ErrRetryNotPositive          = errors.New("client: Retry must be positive")
	ErrMaxReservationsNegative   = errors.New("client: MaxReservationsPerShard must not be negative")
	ErrProbePeriodNegative       = errors.New("client: ProbePeriod must not be negative")
)

// Validate checks that cfg describes a usable Client configuration.
func (cfg Config) Validate() error {
	if cfg.MaxTime <= 0 {
		return ErrMaxTimeNotPositive
	}
	if cfg.IterTime <= 0 {
		return ErrIterTimeNotPositive
	}
	if cfg.AttemptTimeout <= 0 {
		return ErrAttemptTimeoutNotPositive
	}
	if cfg.Retry <= 0 {
		return ErrRetryNotPositive
	}
	if cfg.MaxReservationsPerShard < 0 {
		return ErrMaxReservationsNegative
	}
	if cfg.ProbePeriod < 0 {
		return ErrProbePeriodNegative
	}
	return nil
}

// DefaultConfig returns reasonable defaults for a small deployment.
func DefaultConfig() Config {
	return Config{
		MaxTime:                 5 * time.Second,
		IterTime:                50 * time.Millisecond,
		AttemptTimeout:          time.Second,
		RetryDelay:              20 * time.Millisecond,
		Retry:                   3,
		DialTimeout:             500 * time.Millisecond,
		MaxReservationsPerShard: 8,
	}
}
