// Package health tracks rolling per-backend health and decides eligibility.
package health

import (
	"sync"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
)

// Config holds the degradation thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns threshold 3 and a five minute cool-down.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
	}
}

type record struct {
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
}

// Tracker holds one record per backend key, created lazily on first write.
// A key with no record is Healthy.
type Tracker struct {
	mu      sync.RWMutex
	records map[domain.BackendKey]*record
	cfg     Config
}

// NewTracker creates a tracker. Zero or negative values fall back to the defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Tracker{
		records: make(map[domain.BackendKey]*record),
		cfg:     cfg,
	}
}

// RecordSuccess decays the failure count by one (floor zero) and stamps the success time.
func (t *Tracker) RecordSuccess(key domain.BackendKey, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.getOrCreate(key)
	if r.failures > 0 {
		r.failures--
	}
	r.lastSuccess = now
}

// RecordFailure increments the failure count and stamps the failure time.
func (t *Tracker) RecordFailure(key domain.BackendKey, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.getOrCreate(key)
	r.failures++
	r.lastFailure = now
}

// State derives the current state of a backend.
func (t *Tracker) State(key domain.BackendKey, now time.Time) domain.HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.stateLocked(t.records[key], now)
}

// IsEligible is true unless the backend is Degraded.
func (t *Tracker) IsEligible(key domain.BackendKey, now time.Time) bool {
	return t.State(key, now) != domain.HealthStateDegraded
}

// Snapshot returns a copy of every record with its state derived at now.
func (t *Tracker) Snapshot(now time.Time) map[domain.BackendKey]domain.HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.BackendKey]domain.HealthRecord, len(t.records))
	for key, r := range t.records {
		out[key] = t.toRecord(r, now)
	}
	return out
}

func (t *Tracker) toRecord(r *record, now time.Time) domain.HealthRecord {
	hr := domain.HealthRecord{
		FailureCount: r.failures,
		State:        t.stateLocked(r, now),
	}
	if !r.lastFailure.IsZero() {
		ts := r.lastFailure
		hr.LastFailureAt = &ts
	}
	if !r.lastSuccess.IsZero() {
		ts := r.lastSuccess
		hr.LastSuccessAt = &ts
	}
	return hr
}

// Record returns one backend's record with its state derived at now.
func (t *Tracker) Record(key domain.BackendKey, now time.Time) domain.HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.records[key]
	if !ok {
		return domain.HealthRecord{State: domain.HealthStateHealthy}
	}
	return t.toRecord(r, now)
}

// StateOf derives the state of a record obtained elsewhere, such as a
// snapshot published by another replica, using this tracker's thresholds.
func (t *Tracker) StateOf(hr domain.HealthRecord, now time.Time) domain.HealthState {
	r := &record{failures: hr.FailureCount}
	if hr.LastFailureAt != nil {
		r.lastFailure = *hr.LastFailureAt
	}
	if hr.LastSuccessAt != nil {
		r.lastSuccess = *hr.LastSuccessAt
	}
	return t.stateLocked(r, now)
}

// Reset forgets a backend.
func (t *Tracker) Reset(key domain.BackendKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, key)
}

func (t *Tracker) getOrCreate(key domain.BackendKey) *record {
	r, ok := t.records[key]
	if !ok {
		r = &record{}
		t.records[key] = r
	}
	return r
}

func (t *Tracker) stateLocked(r *record, now time.Time) domain.HealthState {
	if r == nil || r.lastFailure.IsZero() {
		return domain.HealthStateHealthy
	}
	// A success after the most recent failure means the backend is answering again.
	if !r.lastSuccess.IsZero() && r.lastSuccess.After(r.lastFailure) {
		return domain.HealthStateHealthy
	}
	if r.failures < t.cfg.FailureThreshold {
		return domain.HealthStateHealthy
	}
	if now.Sub(r.lastFailure) < t.cfg.Cooldown {
		return domain.HealthStateDegraded
	}
	return domain.HealthStateRecovering
}
