// Package usage keeps daily per-tier and per-backend routing counters.
//
// Counters reset at local midnight. An optional daily spend budget lets
// callers see when the estimated cost of a day's traffic has run over.
package usage

import (
	"sync"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// Config holds usage configuration.
type Config struct {
	// DailyBudget is the estimated spend allowed per day. Zero disables the check.
	DailyBudget float64 `yaml:"daily_budget"`
}

// Event is one finished routing run.
type Event struct {
	Tier     string
	Backend  *domain.BackendKey // nil when the chain was exhausted
	Success  bool
	Attempts int
	Tokens   int
	Cost     float64
}

// Stats holds counters for one tier or backend.
type Stats struct {
	Calls     int     `json:"calls"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Attempts  int     `json:"attempts"`
	Tokens    int     `json:"tokens"`
	Cost      float64 `json:"estimated_cost"`
}

// Report is a point-in-time copy of every counter.
type Report struct {
	Tiers           map[string]Stats            `json:"tiers"`
	Backends        map[domain.BackendKey]Stats `json:"backends"`
	TotalCost       float64                     `json:"total_estimated_cost"`
	DailyBudget     float64                     `json:"daily_budget,omitempty"`
	BudgetRemaining float64                     `json:"budget_remaining,omitempty"`
	NextResetAt     time.Time                   `json:"next_reset_at"`
}

// Tracker accumulates usage. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	tiers     map[string]*Stats
	backends  map[domain.BackendKey]*Stats
	totalCost float64
	resetTime time.Time
	cfg       Config
	now       func() time.Time
}

// NewTracker creates a tracker using the wall clock.
func NewTracker(cfg Config) *Tracker {
	return NewTrackerWithClock(cfg, time.Now)
}

// NewTrackerWithClock creates a tracker with an injected clock.
func NewTrackerWithClock(cfg Config, now func() time.Time) *Tracker {
	t := &Tracker{
		cfg: cfg,
		now: now,
	}
	t.resetUnsafe()
	return t
}

// Record adds a finished run to the counters.
func (t *Tracker) Record(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	ts, ok := t.tiers[ev.Tier]
	if !ok {
		ts = &Stats{}
		t.tiers[ev.Tier] = ts
	}
	apply(ts, ev)

	if ev.Backend != nil {
		bs, ok := t.backends[*ev.Backend]
		if !ok {
			bs = &Stats{}
			t.backends[*ev.Backend] = bs
		}
		apply(bs, ev)
	}

	t.totalCost += ev.Cost
}

func apply(s *Stats, ev Event) {
	s.Calls++
	s.Attempts += ev.Attempts
	if ev.Success {
		s.Successes++
		s.Tokens += ev.Tokens
		s.Cost += ev.Cost
	} else {
		s.Failures++
	}
}

// OverBudget reports whether today's estimated spend reached the daily budget.
func (t *Tracker) OverBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	return t.cfg.DailyBudget > 0 && t.totalCost >= t.cfg.DailyBudget
}

// Report copies every counter.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	r := Report{
		Tiers:       make(map[string]Stats, len(t.tiers)),
		Backends:    make(map[domain.BackendKey]Stats, len(t.backends)),
		TotalCost:   t.totalCost,
		DailyBudget: t.cfg.DailyBudget,
		NextResetAt: t.resetTime,
	}
	for k, v := range t.tiers {
		r.Tiers[k] = *v
	}
	for k, v := range t.backends {
		r.Backends[k] = *v
	}
	if t.cfg.DailyBudget > 0 {
		r.BudgetRemaining = t.cfg.DailyBudget - t.totalCost
		if r.BudgetRemaining < 0 {
			r.BudgetRemaining = 0
		}
	}
	return r
}

// rolloverLocked clears yesterday's counters once the reset time has passed,
// so reads never report a finished day.
func (t *Tracker) rolloverLocked() {
	if !t.now().Before(t.resetTime) {
		t.resetUnsafe()
	}
}

func (t *Tracker) resetUnsafe() {
	now := t.now()
	t.tiers = make(map[string]*Stats)
	t.backends = make(map[domain.BackendKey]*Stats)
	t.totalCost = 0
	t.resetTime = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
