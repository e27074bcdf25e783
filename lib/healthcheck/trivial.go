package healthcheck

import (
	"tntpending/lib/core"
)

// AlwaysHealthyChecker is a trivial health tracker that reports all
// replicas are healthy.
type AlwaysHealthyChecker struct{}

func (hc AlwaysHealthyChecker) HealthyReplicas(candidates core.ReplicaSet) core.ReplicaSet {
	return candidates
}

func (hc AlwaysHealthyChecker) ReportReplicaHealth(report *HealthReport) {
}

// type check AlwaysHealthyChecker satisfies HealthReportSink interface
var _ HealthReportSink = AlwaysHealthyChecker{}
