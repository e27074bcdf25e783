// Package dialer chooses which replica to dial for a shard and retries
// across candidates on failure, informing a pluggable DialPolicy of
// outcomes so it can steer future choices (e.g. away from replicas that
// are failing or overloaded).
package dialer

import (
	"math"
	"sync"
	"tntpending/lib/core"
)

// PlaceholderDialPolicy is a simple but not very useful DialPolicy. It
// arbitrarily chooses a replica to dial in an implementation-defined way.
//
// Multiple goroutines may invoke methods on a PlaceholderDialPolicy
// simultaneously.
type PlaceholderDialPolicy struct{}

func (p PlaceholderDialPolicy) ChooseBestReplica(candidates core.ReplicaSet) (core.Replica, error) {
	for replica := range candidates {
		return replica, nil
	}
	return core.Replica{}, NoCandidateReplicas
}

func (p PlaceholderDialPolicy) DialFailed(replica core.Replica, symptom error) {}

func (p PlaceholderDialPolicy) DialSucceeded(replica core.Replica) {}

func (p PlaceholderDialPolicy) ConnectionClosed(replica core.Replica) {}

// LeastConnectionDialPolicy is a DialPolicy that always chooses a
// replica with the minimal number of open connections among the
// candidate replicas. Since every pending request ties up exactly one
// connection on exactly one replica for its lifetime, this tends to
// spread concurrent shard requests evenly across a shard's replica set.
//
// Multiple goroutines may invoke methods on a LeastConnectionDialPolicy
// simultaneously.
type LeastConnectionDialPolicy struct {
	mu              sync.Mutex
	connectionCount map[core.Replica]int64
}

// NewLeastConnectionDialPolicy returns a new LeastConnectionDialPolicy.
func NewLeastConnectionDialPolicy() *LeastConnectionDialPolicy {
	return &LeastConnectionDialPolicy{
		connectionCount: make(map[core.Replica]int64),
	}
}

func (p *LeastConnectionDialPolicy) ChooseBestReplica(candidates core.ReplicaSet) (core.Replica, error) {
	var minCount int64 = math.MaxInt64
	argMin := core.Replica{}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A linear scan over candidates is fine: a shard rarely has more
	// than a handful of replicas.
	for replica := range candidates {
		count := p.connectionCount[replica]
		if count < minCount {
			minCount = count
			argMin = replica
		}
	}

	var err error
	if minCount == math.MaxInt64 {
		err = NoCandidateReplicas
	}

	return argMin, err
}

func (p *LeastConnectionDialPolicy) DialFailed(replica core.Replica, symptom error) {
	// A failed connection attempt does not change the connection count.
}

func (p *LeastConnectionDialPolicy) DialSucceeded(replica core.Replica) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectionCount[replica]++
}

func (p *LeastConnectionDialPolicy) ConnectionClosed(replica core.Replica) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectionCount[replica]--
}
