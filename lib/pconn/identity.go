package pconn

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"tntpending/lib/core"
)

const DefaultNamespace = "CommonName"

var ErrNoVerifiedChain = errors.New("replica identity: no verified chain")
var ErrInvalidReplicaIdentity = errors.New("replica identity: invalid identity")

// ExtractReplicaIdentity attempts to extract a canonical ReplicaIdentity
// from verifiedChains, arranged as per crypto/tls documentation. The
// CommonName attribute of the leaf certificate Subject of the 0th chain
// determines the identity.
//
// Extraction fails with ErrNoVerifiedChain if zero chains are given, or
// the 0th chain has no certificate in position 0. It fails with
// ErrInvalidReplicaIdentity if the leaf certificate's Subject CommonName
// is empty.
//
// A client dialing a replica directly by address does not strictly need
// this: it is used to detect a replica presenting a different identity
// than the one its address was believed to correspond to, which can
// indicate stale shard-to-replica routing configuration.
func ExtractReplicaIdentity(verifiedChains [][]*x509.Certificate) (core.ReplicaIdentity, error) {
	if len(verifiedChains) == 0 {
		return core.ReplicaIdentity{}, ErrNoVerifiedChain
	}
	if len(verifiedChains[0]) == 0 {
		return core.ReplicaIdentity{}, ErrNoVerifiedChain
	}
	leafCert := verifiedChains[0][0]
	if leafCert == nil {
		return core.ReplicaIdentity{}, ErrNoVerifiedChain
	}
	key := leafCert.Subject.CommonName
	if key == "" {
		return core.ReplicaIdentity{}, ErrInvalidReplicaIdentity
	}
	return core.ReplicaIdentity{Namespace: DefaultNamespace, Key: key}, nil
}

// AuthenticatedTLSConn wraps a tls.Conn and exposes GetReplicaIdentity
// to extract the canonical identity of the replica at the other end.
//
// Multiple goroutines may invoke methods on an AuthenticatedTLSConn
// simultaneously.
type AuthenticatedTLSConn struct {
	*tls.Conn
}

func (c *AuthenticatedTLSConn) GetReplicaIdentity() (core.ReplicaIdentity, error) {
	return ExtractReplicaIdentity(c.ConnectionState().VerifiedChains)
}

func (c *AuthenticatedTLSConn) CloseWithReason(reason string) {
	_ = c.Conn.Close()
}

var _ Connection = (*AuthenticatedTLSConn)(nil)
