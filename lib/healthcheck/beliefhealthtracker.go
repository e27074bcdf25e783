// Package healthcheck tracks replica health so that dial candidates can
// be narrowed to replicas currently believed reachable, and actively
// probes replicas between requests to keep that belief fresh.
package healthcheck

import (
	"sync"
	"tntpending/lib/core"
)

type HealthBeliefState uint8

const (
	HEALTHY HealthBeliefState = iota
	UNHEALTHY
)

// Config holds configuration for a BeliefHealthTracker.
type Config struct {
	// Prior is the initial HealthBeliefState to use for a replica,
	// before any observations are known.
	Prior HealthBeliefState

	// MinFailuresToInferUnhealthy is the minimum number of consecutive
	// CheckFail observations for the belief state to transition to
	// UNHEALTHY.
	MinFailuresToInferUnhealthy uint8

	// MinSuccessesToInferHealthy is the minimum number of consecutive
	// CheckSuccess observations for the belief state to transition to
	// HEALTHY.
	MinSuccessesToInferHealthy uint8
}

// BeliefHealthTracker maintains a belief state about the health of each
// replica. All replicas in scope for health tracking must be registered
// when the BeliefHealthTracker is created by NewBeliefHealthTracker.
type BeliefHealthTracker struct {
	beliefStateByReplica map[core.Replica]*replicaBeliefState
}

func NewBeliefHealthTracker(replicas core.ReplicaSet, cfg Config) *BeliefHealthTracker {
	beliefStateByReplica := make(map[core.Replica]*replicaBeliefState)
	for r := range replicas {
		beliefStateByReplica[r] = &replicaBeliefState{
			cfg:       cfg,
			state:     cfg.Prior,
			failures:  0,
			successes: 0,
		}
	}
	return &BeliefHealthTracker{
		beliefStateByReplica: beliefStateByReplica,
	}
}

// HealthyReplicas returns a new ReplicaSet containing the subset of
// candidate replicas currently believed to be healthy.
//
// Any unknown replicas in the candidate set are ignored.
func (hc *BeliefHealthTracker) HealthyReplicas(candidates core.ReplicaSet) core.ReplicaSet {
	result := core.EmptyReplicaSet()

	for r := range candidates {
		beliefState, exists := hc.beliefStateByReplica[r]
		if !exists {
			continue // Replica was not previously registered, ignore.
		}
		if beliefState.CurrentBelief() == HEALTHY {
			result[r] = struct{}{}
		}
	}
	return result
}

// ReportReplicaHealth accepts a HealthReport.
//
// If the report is for an unknown replica, it is ignored.
func (hc *BeliefHealthTracker) ReportReplicaHealth(report *HealthReport) {
	if report == nil {
		return
	}
	beliefState, exists := hc.beliefStateByReplica[report.Replica]
	if !exists {
		return // Replica was not previously registered, ignore.
	}
	beliefState.UpdateBelief(report)
}

// replicaBeliefState encodes the current belief about the health of a
// single replica. It must not be copied.
type replicaBeliefState struct {
	// cfg is never modified after initialisation.
	cfg Config

	mu        sync.Mutex
	state     HealthBeliefState
	failures  uint8
	successes uint8
}

func minUint8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func (s *replicaBeliefState) UpdateBelief(report *HealthReport) {
	if report == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateBeliefLocked(report)
}

func (s *replicaBeliefState) updateBeliefLocked(report *HealthReport) {
	switch report.CheckResult {
	case CheckSuccess:
		s.failures = 0
		s.successes = minUint8(s.successes+1, s.cfg.MinSuccessesToInferHealthy)
		if s.successes >= s.cfg.MinSuccessesToInferHealthy {
			s.state = HEALTHY
		}
	case CheckFail:
		s.failures = minUint8(s.failures+1, s.cfg.MinFailuresToInferUnhealthy)
		s.successes = 0
		if s.failures >= s.cfg.MinFailuresToInferUnhealthy {
			s.state = UNHEALTHY
		}
	}
}

func (s *replicaBeliefState) CurrentBelief() HealthBeliefState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// type check *BeliefHealthTracker satisfies HealthReportSink interface
var _ HealthReportSink = (*BeliefHealthTracker)(nil)
