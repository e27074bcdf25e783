package core

import "fmt"

// Replica identifies one network endpoint that can serve a shard: either
// the shard's primary or one of its read replicas.
//
// Implementations must support comparison operators (==, !=) and have
// value semantics.
type Replica struct {
	Network string // Network is the dial network, e.g. "tcp".
	Address string // Address is host:port of the replica.
}

func (r Replica) String() string {
	return fmt.Sprintf("%s://%s", r.Network, r.Address)
}

// ReplicaSet represents a set of Replicas.
type ReplicaSet map[Replica]struct{}

// EmptyReplicaSet returns a new ReplicaSet containing no Replicas.
func EmptyReplicaSet() ReplicaSet {
	return make(ReplicaSet)
}

// NewReplicaSet returns a new ReplicaSet containing the given Replicas.
func NewReplicaSet(replicas ...Replica) ReplicaSet {
	result := EmptyReplicaSet()
	for _, r := range replicas {
		result[r] = struct{}{}
	}
	return result
}

// Union returns a new ReplicaSet that is the union of the input sets.
func Union(lhs, rhs ReplicaSet) ReplicaSet {
	result := EmptyReplicaSet()
	for r := range lhs {
		result[r] = struct{}{}
	}
	for r := range rhs {
		result[r] = struct{}{}
	}
	return result
}

// UnionUpdate updates the input acc ReplicaSet in-place by taking the
// union with the given rhs ReplicaSet. The modified acc is returned.
func UnionUpdate(acc, rhs ReplicaSet) ReplicaSet {
	for r := range rhs {
		acc[r] = struct{}{}
	}
	return acc
}

// ReplicaIdentity is the canonical identity of a replica server as
// extracted from its certificate, used for diagnostics when a replica's
// presented identity disagrees with its configured address.
type ReplicaIdentity struct {
	Namespace string
	Key       string
}
