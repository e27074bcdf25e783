// Package limiter provides admission control over concurrent in-flight
// requests, bounding how many reservations a single caller (e.g. a
// shard, or an application-level caller ID) may hold at once.
package limiter

import (
	"context"
	"errors"
	"sync"
)

// MaxReservationsExceeded is returned by UniformlyBoundedRequestReserver
// when an attempted reservation fails because the caller already holds
// too many reservations.
var MaxReservationsExceeded = errors.New("maximum reservations exceeded")

// NoReservationExists is returned by UniformlyBoundedRequestReserver if
// a caller attempts to release a reservation that wasn't previously
// acquired.
var NoReservationExists = errors.New("no reservation exists")

// InvariantFailure is returned by UniformlyBoundedRequestReserver if it
// detects its internal invariants have been broken.
var InvariantFailure = errors.New("reservation invariant failure")

// RequestReserver bounds the number of concurrent in-flight requests a
// caller may have outstanding.
//
// Multiple goroutines may invoke methods on a RequestReserver
// simultaneously.
type RequestReserver[CallerID comparable] interface {
	TryReserve(ctx context.Context, caller CallerID) error
	ReleaseReservation(ctx context.Context, caller CallerID) error
}

// UnboundedRequestReserver is a RequestReserver where every caller is
// free to acquire arbitrarily many reservations without constraint.
type UnboundedRequestReserver[CallerID comparable] struct{}

func (u UnboundedRequestReserver[CallerID]) TryReserve(ctx context.Context, caller CallerID) error {
	return nil
}

func (u UnboundedRequestReserver[CallerID]) ReleaseReservation(ctx context.Context, caller CallerID) error {
	return nil
}

// UniformlyBoundedRequestReserver is a RequestReserver where every
// caller is subject to a uniform maximum limit on the number of
// reservations it can hold at once. A client library embeds one of
// these keyed by ShardID to stop one slow or wedged shard from
// accumulating unbounded concurrent in-flight requests.
//
// Multiple goroutines may invoke methods on a
// UniformlyBoundedRequestReserver simultaneously.
type UniformlyBoundedRequestReserver[CallerID comparable] struct {
	MaxReservationsPerCaller int64

	mu          sync.Mutex
	resByCaller map[CallerID]int64
}

func NewUniformlyBoundedRequestReserver[CallerID comparable](maxReservationsPerCaller int64) *UniformlyBoundedRequestReserver[CallerID] {
	return &UniformlyBoundedRequestReserver[CallerID]{
		MaxReservationsPerCaller: maxReservationsPerCaller,
		resByCaller:              make(map[CallerID]int64),
	}
}

// TryReserve attempts to acquire a reservation for caller. If the
// attempt fails because caller has exceeded the maximum number of
// reservations, MaxReservationsExceeded is returned.
//
// This call never blocks.
func (b *UniformlyBoundedRequestReserver[CallerID]) TryReserve(ctx context.Context, caller CallerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.resByCaller[caller]
	if n < 0 || n > b.MaxReservationsPerCaller {
		return InvariantFailure
	}
	if n == b.MaxReservationsPerCaller {
		return MaxReservationsExceeded
	}
	b.resByCaller[caller] = n + 1
	return nil
}

// ReleaseReservation releases a reservation previously acquired by
// TryReserve. If a caller has incorrectly attempted to release a
// reservation that does not exist, NoReservationExists is returned.
func (b *UniformlyBoundedRequestReserver[CallerID]) ReleaseReservation(ctx context.Context, caller CallerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.resByCaller[caller]
	if n < 0 || n > b.MaxReservationsPerCaller {
		return InvariantFailure
	}
	if n == 0 {
		return NoReservationExists
	}
	n--
	// Delete rather than store zero, so that a very large number of
	// callers each briefly holding a reservation does not grow the map
	// unboundedly.
	if n == 0 {
		delete(b.resByCaller, caller)
	} else {
		b.resByCaller[caller] = n
	}
	return nil
}
