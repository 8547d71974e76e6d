package cellular

import (
	"time"
)

// HealthStatus is the status label produced by health assessment. The finer
// health vocabulary lives here rather than in LifecycleState: a unit whose
// assessment is critical is still in lifecycle state active or degraded.
type HealthStatus int

const (
	// HealthUnknown indicates the status could not be determined, typically
	// because no thresholds matched and no metrics were present.
	HealthUnknown HealthStatus = iota

	// HealthHealthy indicates all monitored metrics are within thresholds.
	HealthHealthy

	// HealthDegraded indicates at least one metric crossed its warning
	// threshold.
	HealthDegraded

	// HealthCritical indicates at least one metric crossed its critical
	// threshold.
	HealthCritical
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// worse returns the worst of two statuses.
// Hierarchy: healthy < degraded < critical.
func (s HealthStatus) worse(other HealthStatus) HealthStatus {
	if other > s {
		return other
	}
	return s
}

// Well-known property keys read by the health monitor and vital stats.
const (
	PropErrorRate      = "errorRate"
	PropQueueDepth     = "queueDepth"
	PropProcessingRate = "processingRate"
	PropProcessedCount = "processedCount"
	PropQueuedCount    = "queuedCount"
	PropErrorCount     = "errorCount"
	PropThroughput     = "throughput"
	PropLatencyMs      = "latencyMs"

	// PropRecoveryAttempts counts recovery ladder runs for the unit.
	PropRecoveryAttempts = "recoveryAttempts"

	// PropLineage is the append-only creation lineage of the unit.
	PropLineage = "lineage"

	// PropTerminationReason records why the unit was destroyed.
	PropTerminationReason = "terminationReason"
)

// MetricReading is one evaluated metric inside a health assessment.
type MetricReading struct {
	// Key is the property key the metric was read from.
	Key string `json:"key"`

	// Value is the observed value. Zero when the property was absent.
	Value float64 `json:"value"`

	// Present reports whether the property existed at assessment time.
	Present bool `json:"present"`

	// Status is the per-metric outcome of threshold comparison.
	Status HealthStatus `json:"status"`
}

// HealthAssessment is an immutable point-in-time snapshot produced by
// Monitor.Assess. It is never mutated after creation and never aliases live
// unit state.
type HealthAssessment struct {
	// UnitID identifies the assessed unit.
	UnitID string `json:"unitId"`

	// Timestamp is when the assessment was produced.
	Timestamp time.Time `json:"timestamp"`

	// Status is the worst status matched across all metric checks.
	Status HealthStatus `json:"status"`

	// Readings lists every evaluated metric in threshold priority order.
	Readings []MetricReading `json:"readings"`

	// Warnings accumulates one human-readable string per crossed threshold.
	// A unit stuck in degraded with a non-empty warnings list is the primary
	// diagnostic surface.
	Warnings []string `json:"warnings,omitempty"`
}

// IsHealthy reports whether the assessment found no threshold crossings.
func (a HealthAssessment) IsHealthy() bool {
	return a.Status == HealthHealthy
}

// VitalStats is an immutable, narrow snapshot optimized for frequent polling.
// Counters are read from the well-known property keys; absent keys read as
// zero.
type VitalStats struct {
	Timestamp  time.Time      `json:"timestamp"`
	State      LifecycleState `json:"state"`
	Processed  int64          `json:"processed"`
	Queued     int64          `json:"queued"`
	Errors     int64          `json:"errors"`
	Throughput float64        `json:"throughput"`
	LatencyMs  float64        `json:"latencyMs"`
}
