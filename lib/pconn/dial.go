package pconn

import (
	"context"
	"crypto/tls"
	"net"
	"time"
	"tntpending/lib/core"
	"tntpending/lib/slog"
)

// Dialer dials replicas.
//
// Multiple goroutines may invoke methods on a Dialer simultaneously.
type Dialer interface {
	// DialReplica dials replica, returning a Connection if one is
	// established. Implementations should honour context deadlines,
	// timeouts, and cancellations (if any).
	DialReplica(ctx context.Context, replica core.Replica) (Connection, error)
}

// SimpleDialer dials replicas with the standard library's net.Dialer and
// adapts the result into a Connection.
type SimpleDialer struct{}

func (d SimpleDialer) DialReplica(ctx context.Context, replica core.Replica) (Connection, error) {
	dd := net.Dialer{}
	conn, err := dd.DialContext(ctx, replica.Network, replica.Address)
	if err != nil {
		return nil, err
	}
	return AdaptNetConn(conn), nil
}

// TimeoutDialer wraps an inner Dialer, bounding every dial attempt by a
// fixed Timeout regardless of the ctx passed in by the caller.
type TimeoutDialer struct {
	Timeout time.Duration
	Inner   Dialer
}

func (d TimeoutDialer) DialReplica(ctx context.Context, replica core.Replica) (Connection, error) {
	childCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	return d.Inner.DialReplica(childCtx, replica)
}

// TLSDialer dials replicas over TLS, verifying the replica's
// certificate chain per Config and extracting the replica's canonical
// identity from it. If ExpectedIdentities records an expectation for
// the replica and the presented identity differs, a warning is logged;
// the connection is still returned, since a verified-but-renamed
// replica can usually serve the request and the operator signal is the
// point (cert rotation, stale shard-to-replica routing).
type TLSDialer struct {
	Config *tls.Config
	Logger slog.Logger

	// ExpectedIdentities optionally maps a replica to the identity it
	// is expected to present. Replicas without an entry are logged but
	// never warned about.
	ExpectedIdentities map[core.Replica]core.ReplicaIdentity
}

func (d TLSDialer) DialReplica(ctx context.Context, replica core.Replica) (Connection, error) {
	nd := net.Dialer{}
	rawConn, err := nd.DialContext(ctx, replica.Network, replica.Address)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(rawConn, d.Config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := &AuthenticatedTLSConn{Conn: tlsConn}
	d.checkIdentity(replica, conn)
	return conn, nil
}

func (d TLSDialer) checkIdentity(replica core.Replica, conn *AuthenticatedTLSConn) {
	if d.Logger == nil {
		return
	}
	identity, err := conn.GetReplicaIdentity()
	if err != nil {
		d.Logger.Warn(&slog.LogRecord{Msg: "could not extract replica identity", Replica: &replica, Error: err})
		return
	}
	if expected, known := d.ExpectedIdentities[replica]; known && expected != identity {
		d.Logger.Warn(&slog.LogRecord{
			Msg:      "replica presented an unexpected identity",
			Replica:  &replica,
			Identity: &identity,
			Details:  expected,
		})
		return
	}
	d.Logger.Info(&slog.LogRecord{Msg: "replica identity verified", Replica: &replica, Identity: &identity})
}
