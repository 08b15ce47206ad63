package engine

import (
	"errors"
	"fmt"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// ErrUnknownBackend is returned for a key that no tier configures.
var ErrUnknownBackend = errors.New("unknown backend")

// Status is the aggregated health of a tier or of the whole router.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded" // some backends excluded, tier still served
	StatusCritical Status = "critical" // no eligible backend left in the tier
)

// TierHealth summarises the eligibility of one tier's chain.
type TierHealth struct {
	Status   Status   `json:"status"`
	Total    int      `json:"total"`
	Eligible int      `json:"eligible"`
	Degraded []string `json:"degraded,omitempty"`
}

// TierHealth reports every tier's chain eligibility right now.
func (e *Engine) TierHealth() map[string]TierHealth {
	now := e.now()
	out := make(map[string]TierHealth)
	for _, tier := range e.catalog.Tiers() {
		_, chain := e.catalog.Chain(tier)
		th := TierHealth{Status: StatusHealthy, Total: len(chain)}
		for _, b := range chain {
			if e.tracker.State(b.Key(), now) == domain.HealthStateDegraded {
				th.Degraded = append(th.Degraded, b.Key().String())
				continue
			}
			th.Eligible++
		}
		switch {
		case th.Eligible == 0:
			th.Status = StatusCritical
		case len(th.Degraded) > 0:
			th.Status = StatusDegraded
		}
		out[tier] = th
	}
	return out
}

// OverallStatus is the worst tier status.
func OverallStatus(tiers map[string]TierHealth) Status {
	status := StatusHealthy
	for _, th := range tiers {
		if th.Status == StatusCritical {
			return StatusCritical
		}
		if th.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

// ResetBackend clears a configured backend's health, making it eligible again
// before its cool-down ends.
func (e *Engine) ResetBackend(key domain.BackendKey) error {
	if _, ok := e.catalog.Find(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, key)
	}
	e.tracker.Reset(key)
	e.logger.Info("Backend health reset", "backend", key.String())
	return nil
}
