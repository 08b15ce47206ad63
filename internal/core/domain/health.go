package domain

import "time"

// HealthState is derived from a HealthRecord; it is never stored.
type HealthState string

const (
	HealthStateHealthy    HealthState = "healthy"
	HealthStateDegraded   HealthState = "degraded"
	HealthStateRecovering HealthState = "recovering"
)

// HealthRecord is the rolling health of one backend. It lives for the process lifetime.
type HealthRecord struct {
	FailureCount  int         `json:"failure_count"`
	LastFailureAt *time.Time  `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	State         HealthState `json:"state,omitempty"`
}
