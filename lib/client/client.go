package client

import (
	"context"
	"fmt"

	"tntpending/lib/core"
	"tntpending/lib/dialer"
	"tntpending/lib/healthcheck"
	"tntpending/lib/limiter"
	"tntpending/lib/pconn"
	"tntpending/lib/pending"
	"tntpending/lib/slog"
)

// RequestBuilder shapes the bytes of a request against one shard. Tuple
// encoding, field packing, and operator codes are out of scope for this
// client core; a RequestBuilder is consumed only as an opaque callable.
type RequestBuilder func(shard core.ShardID) ([]byte, error)

// ResponseDecoder drives one exchange to completion over conn, given the
// bytes built by a RequestBuilder. It returns the same Outcome shape
// pending.Item expects from any continuation step: decoding the store's
// wire protocol is out of scope here.
type ResponseDecoder[R any] func(ctx context.Context, conn pconn.Connection, request []byte) pconn.Outcome[R]

// Client is the store client's pending-request façade: it owns the
// replica dialer, health tracker, admission reserver, and optional
// active prober, and drives one pending.Set per call to
// Select/Insert/Update/Delete/Call.
type Client[R any] struct {
	Config Config
	Logger slog.Logger

	ReplicaDialer *dialer.RetryDialer
	Health        *healthcheck.BeliefHealthTracker
	Reserver      limiter.RequestReserver[core.ShardID]
	Prober        *healthcheck.ProbePool

	// Replicas maps each shard this client knows about to its candidate
	// replica set (primary + read replicas).
	Replicas map[core.ShardID]core.ReplicaSet
}

// NewClient builds a Client wired against the given shard-to-replica
// topology, with a LeastConnectionDialPolicy. Admission is bounded per
// shard when cfg.MaxReservationsPerShard is positive, unbounded
// otherwise; replicas are dialed over TLS when cfg.TLS is set; and an
// active prober covering every configured replica is prepared when
// cfg.ProbePeriod is positive (start it with StartProbing).
func NewClient[R any](cfg Config, replicas map[core.ShardID]core.ReplicaSet, logger slog.Logger) (*Client[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.GetDefaultLogger()
	}

	all := core.EmptyReplicaSet()
	for _, rs := range replicas {
		core.UnionUpdate(all, rs)
	}

	var base pconn.Dialer = pconn.SimpleDialer{}
	if cfg.TLS != nil {
		base = pconn.TLSDialer{
			Config:             cfg.TLS,
			Logger:             logger,
			ExpectedIdentities: cfg.ExpectedIdentities,
		}
	}

	var reserver limiter.RequestReserver[core.ShardID] = limiter.UnboundedRequestReserver[core.ShardID]{}
	if cfg.MaxReservationsPerShard > 0 {
		reserver = limiter.NewUniformlyBoundedRequestReserver[core.ShardID](cfg.MaxReservationsPerShard)
	}

	health := healthcheck.NewBeliefHealthTracker(all, healthcheck.Config{Prior: healthcheck.HEALTHY, MinFailuresToInferUnhealthy: 2, MinSuccessesToInferHealthy: 1})

	var prober *healthcheck.ProbePool
	if cfg.ProbePeriod > 0 {
		prober = healthcheck.NewProbePool(healthcheck.ProbePoolConfig{
			HealthReportSink: health,
			ProbePeriod:      cfg.ProbePeriod,
			Replicas:         all,
			Dialer:           pconn.TimeoutDialer{Timeout: cfg.DialTimeout, Inner: base},
		})
	}

	return &Client[R]{
		Config: cfg,
		Logger: logger,
		ReplicaDialer: &dialer.RetryDialer{
			Logger:      logger,
			Timeout:     cfg.DialTimeout,
			Policy:      dialer.NewLeastConnectionDialPolicy(),
			InnerDialer: base,
		},
		Health:   health,
		Reserver: reserver,
		Prober:   prober,
		Replicas: replicas,
	}, nil
}

// StartProbing starts active background replica probing, if the Client
// was configured with a ProbePeriod. Probe outcomes feed the same
// health tracker request traffic does, so replicas with no recent
// pending-item traffic still converge to an accurate belief.
func (c *Client[R]) StartProbing(ctx context.Context) {
	if c.Prober != nil {
		c.Prober.Start(ctx)
	}
}

// StopProbing stops active probing, blocking until all in-flight probes
// have finished.
func (c *Client[R]) StopProbing() {
	if c.Prober != nil {
		c.Prober.Stop()
	}
}

// exchange is what each shard's pending.Item is built around: build the
// request bytes once, then decode the response on whichever replica
// connection the dialer ultimately hands back. reserved tracks whether
// this item currently holds an admission reservation; an item holds at
// most one for its whole lifetime in the set, however many attempts it
// takes.
type exchange[R any] struct {
	request  []byte
	decode   ResponseDecoder[R]
	reserved bool
}

func (c *Client[R]) onRetry(id core.ShardID, item *pending.Item[core.ShardID, R], set *pending.Set[core.ShardID, R], ex *exchange[R]) *pconn.Continuation[R] {
	ctx := context.Background()
	if !ex.reserved {
		if err := c.Reserver.TryReserve(ctx, id); err != nil {
			return nil // admission-limited this tick; stay sleeping, no attempt consumed.
		}
		ex.reserved = true
	}

	candidates := c.Replicas[id]
	if c.Health != nil {
		if healthy := c.Health.HealthyReplicas(candidates); len(healthy) > 0 {
			candidates = healthy
		}
	}

	replica, conn, err := c.ReplicaDialer.DialBestReplica(ctx, candidates)
	if err != nil {
		c.Logger.Warn(&slog.LogRecord{Msg: "dial failed for shard", ShardID: &id, Error: err})
		return nil
	}

	return &pconn.Continuation[R]{
		Connection: conn,
		Continue: func(ctx context.Context) pconn.Outcome[R] {
			outcome := ex.decode(ctx, conn, ex.request)
			c.reportHealth(replica, outcome)
			return outcome
		},
	}
}

// releaseIfReserved releases the item's admission reservation, if it
// holds one. Terminal callbacks fire exactly once per item, so this
// runs at most once per reservation.
func (c *Client[R]) releaseIfReserved(id core.ShardID, ex *exchange[R]) {
	if !ex.reserved {
		return
	}
	ex.reserved = false
	_ = c.Reserver.ReleaseReservation(context.Background(), id)
}

func (c *Client[R]) reportHealth(replica core.Replica, outcome pconn.Outcome[R]) {
	if c.Health == nil {
		return
	}
	switch outcome.Kind {
	case pconn.OutcomeDone:
		c.Health.ReportReplicaHealth(&healthcheck.HealthReport{Replica: replica, CheckResult: healthcheck.CheckSuccess})
	case pconn.OutcomeFailure, pconn.OutcomeReset:
		c.Health.ReportReplicaHealth(&healthcheck.HealthReport{Replica: replica, CheckResult: healthcheck.CheckFail, Symptom: outcome.Err})
	}
}

// Do submits one pending.Item per entry in exchanges and drives them to
// completion, returning each shard's result or error. It never returns a
// top-level error for individual shard failures: every shard is
// represented in exactly one of the two returned maps.
func (c *Client[R]) Do(ctx context.Context, exchanges map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	results := make(map[core.ShardID]R, len(exchanges))
	errs := make(map[core.ShardID]error, len(exchanges))

	set := pending.NewSet[core.ShardID, R]("client", c.Config.MaxTime, c.Config.IterTime, nil)
	set.Logger = c.Logger

	items := make([]*pending.Item[core.ShardID, R], 0, len(exchanges))
	for id, decode := range exchanges {
		reqBytes, err := request(id)
		if err != nil {
			errs[id] = fmt.Errorf("building request for shard %v: %w", id, err)
			continue
		}
		ex := &exchange[R]{request: reqBytes, decode: decode}

		item := pending.NewItem[core.ShardID, R](id, c.Config.AttemptTimeout, c.Config.RetryDelay, c.Config.Retry)
		item.OnRetry = func(id core.ShardID, item *pending.Item[core.ShardID, R], set *pending.Set[core.ShardID, R]) *pconn.Continuation[R] {
			return c.onRetry(id, item, set, ex)
		}
		item.OnOK = func(id core.ShardID, result R, item *pending.Item[core.ShardID, R], set *pending.Set[core.ShardID, R]) {
			c.releaseIfReserved(id, ex)
			results[id] = result
		}
		item.OnError = func(id core.ShardID, reason error, item *pending.Item[core.ShardID, R], set *pending.Set[core.ShardID, R]) {
			c.releaseIfReserved(id, ex)
			errs[id] = reason
		}
		items = append(items, item)
	}

	if len(items) > 0 {
		_ = set.Add(items...) // exchanges is a map, so shard ids here are already unique.
		set.Work(ctx)
	}

	return results, errs
}

// Select fetches the current value(s) for a set of shard keys.
func (c *Client[R]) Select(ctx context.Context, targets map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	return c.Do(ctx, targets, request)
}

// Insert writes new tuples to a set of target shards.
func (c *Client[R]) Insert(ctx context.Context, targets map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	return c.Do(ctx, targets, request)
}

// Update mutates existing tuples on a set of target shards.
func (c *Client[R]) Update(ctx context.Context, targets map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	return c.Do(ctx, targets, request)
}

// Delete removes tuples from a set of target shards.
func (c *Client[R]) Delete(ctx context.Context, targets map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	return c.Do(ctx, targets, request)
}

// Call invokes a store-side procedure against a set of target shards.
func (c *Client[R]) Call(ctx context.Context, targets map[core.ShardID]ResponseDecoder[R], request RequestBuilder) (map[core.ShardID]R, map[core.ShardID]error) {
	return c.Do(ctx, targets, request)
}
