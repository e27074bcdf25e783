package healthcheck

import (
	"context"
	"sync"
	"time"
	"tntpending/lib/core"
	"tntpending/lib/pconn"
)

type HealthCheckResult int8

const (
	CheckFail HealthCheckResult = iota
	CheckSuccess
)

// HealthReport contains information from a single observation of
// replica health - perhaps a successful or failed connection attempt,
// or the result of an active probe.
type HealthReport struct {
	Replica     core.Replica
	CheckResult HealthCheckResult
	Symptom     error // Symptom may optionally explain a failed check.
}

// HealthReportSink represents an entity that can receive replica health
// reports from a ProbePool.
//
// Multiple goroutines may invoke methods on a HealthReportSink
// simultaneously.
type HealthReportSink interface {
	ReportReplicaHealth(report *HealthReport)
}

type ProbePoolConfig struct {
	HealthReportSink HealthReportSink
	ProbePeriod      time.Duration
	Replicas         core.ReplicaSet
	Dialer           pconn.Dialer
}

// ProbePool probes a set of replicas on a periodic schedule, reporting
// probe outcomes to a HealthReportSink. To initialise a ProbePool, call
// NewProbePool. To start an initialised ProbePool, call Start.
//
// Multiple goroutines may invoke methods on a ProbePool.
type ProbePool struct {
	cfg ProbePoolConfig

	mu      sync.Mutex
	started bool
	stopped bool
	done    context.CancelFunc
	wg      sync.WaitGroup
}

// NewProbePool creates a new ProbePool from the given ProbePoolConfig.
func NewProbePool(cfg ProbePoolConfig) *ProbePool {
	return &ProbePool{
		cfg: cfg,
	}
}

// Start starts a ProbePool that has been initialised but not yet
// started. Start returns without blocking; health observations are
// reported to the configured HealthReportSink asynchronously.
func (ap *ProbePool) Start(ctx context.Context) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.started {
		return
	}
	probeCtx, probeCancel := context.WithCancel(ctx)
	ap.done = probeCancel

	ap.started = true
	ap.stopped = false
	for r := range ap.cfg.Replicas {
		ap.wg.Add(1)
		w := newProbeWorker(probeWorkerConfig{
			Replica:          r,
			Period:           ap.cfg.ProbePeriod,
			HealthReportSink: ap.cfg.HealthReportSink,
			Dialer:           ap.cfg.Dialer,
			WaitGroup:        &ap.wg,
		})
		go w.probeForever(probeCtx)
	}
}

// Stop stops a ProbePool that was previously started. Stop cancels
// probing, and blocks until all probes are stopped.
func (ap *ProbePool) Stop() {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if !ap.started || ap.stopped {
		return
	}

	ap.started = false
	ap.stopped = true
	ap.done()
	ap.wg.Wait()
}

type probeWorkerConfig struct {
	Replica          core.Replica
	Period           time.Duration
	HealthReportSink HealthReportSink
	Dialer           pconn.Dialer
	WaitGroup        *sync.WaitGroup
}

// probeWorker actively probes the health of a single configured
// replica according to a periodic schedule.
type probeWorker struct {
	cfg probeWorkerConfig
}

func newProbeWorker(cfg probeWorkerConfig) *probeWorker {
	return &probeWorker{cfg: cfg}
}

func (w *probeWorker) probeForever(ctx context.Context) {
	defer w.cfg.WaitGroup.Done()

	ticker := time.NewTicker(w.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The dialer is responsible for setting a connect timeout.
			conn, err := w.cfg.Dialer.DialReplica(ctx, w.cfg.Replica)
			var report HealthReport
			report.Replica = w.cfg.Replica
			if err != nil {
				report.Symptom = err
				report.CheckResult = CheckFail
			} else {
				report.CheckResult = CheckSuccess
				conn.CloseWithReason("probe complete")
			}
			w.cfg.HealthReportSink.ReportReplicaHealth(&report)
		}
	}
}
