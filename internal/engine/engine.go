// Package engine is the routing library boundary: classify a query, pick a
// tier, run it against the tier's chain with failover, and price the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/infra/backend"
	"github.com/vietddude/llmrouter/internal/infra/storage"
	"github.com/vietddude/llmrouter/internal/metrics"
	"github.com/vietddude/llmrouter/internal/routing/catalog"
	"github.com/vietddude/llmrouter/internal/routing/classifier"
	"github.com/vietddude/llmrouter/internal/routing/cost"
	"github.com/vietddude/llmrouter/internal/routing/failover"
	"github.com/vietddude/llmrouter/internal/routing/health"
	"github.com/vietddude/llmrouter/internal/routing/usage"
)

// Deps are the engine's collaborators. Registry, Decisions and Usage are
// optional; Route needs Registry.
type Deps struct {
	Classifier *classifier.Classifier
	Catalog    *catalog.Catalog
	Tracker    *health.Tracker
	Executor   *failover.Executor
	Usage      *usage.Tracker
	Registry   *backend.Registry
	Decisions  storage.DecisionRepository
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Engine wires the routing components together.
type Engine struct {
	classifier *classifier.Classifier
	catalog    *catalog.Catalog
	tracker    *health.Tracker
	executor   *failover.Executor
	usage      *usage.Tracker
	registry   *backend.Registry
	decisions  storage.DecisionRepository
	logger     *slog.Logger
	now        func() time.Time
}

// RouteResult is everything Route learned about one query.
type RouteResult struct {
	DecisionID     string                  `json:"decision_id"`
	Classification domain.Classification   `json:"classification"`
	Tier           string                  `json:"tier"`
	Outcome        domain.ExecutionOutcome `json:"outcome"`
	Response       *backend.Response       `json:"response,omitempty"`
	Tokens         int                     `json:"tokens"`
	EstimatedCost  float64                 `json:"estimated_cost"`
}

// New validates the wiring. Every tier the classifier can recommend must
// exist in the catalog, and with a registry every provider in the catalog
// must have a backend.
func New(d Deps) (*Engine, error) {
	if d.Classifier == nil || d.Catalog == nil || d.Tracker == nil || d.Executor == nil {
		return nil, errors.New("engine: classifier, catalog, tracker and executor are required")
	}
	if err := d.Catalog.RequireTiers(d.Classifier.Rules().Tiers()); err != nil {
		return nil, err
	}
	if d.Registry != nil {
		for _, p := range d.Catalog.Providers() {
			if _, ok := d.Registry.Get(p); !ok {
				return nil, &catalog.ConfigurationError{Reason: fmt.Sprintf("provider %s has no registered backend", p)}
			}
		}
	}

	e := &Engine{
		classifier: d.Classifier,
		catalog:    d.Catalog,
		tracker:    d.Tracker,
		executor:   d.Executor,
		usage:      d.Usage,
		registry:   d.Registry,
		decisions:  d.Decisions,
		logger:     d.Logger,
		now:        d.Clock,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Classify analyses a query. It never fails.
func (e *Engine) Classify(query, declaredType string) domain.Classification {
	c := e.classifier.Classify(query, declaredType)
	metrics.ClassificationsTotal.WithLabelValues(string(c.Type), c.Complexity.String(), c.RecommendedTier).Inc()
	return c
}

// SelectTier returns the override when it names a configured tier, otherwise
// the recommended tier. An unknown override is logged and ignored.
func (e *Engine) SelectTier(c domain.Classification, override *string) string {
	if override != nil && *override != "" {
		if e.catalog.Has(*override) {
			return *override
		}
		e.logger.Warn("Ignoring unknown tier override", "override", *override, "recommended", c.RecommendedTier)
	}
	if e.catalog.Has(c.RecommendedTier) {
		return c.RecommendedTier
	}
	return e.catalog.FallbackTier()
}

// Run executes fn against the tier's chain. Unknown tiers use the fallback tier.
func (e *Engine) Run(ctx context.Context, tier string, fn failover.ExecuteFunc, maxAttempts int) (domain.ExecutionOutcome, error) {
	resolved, chain := e.catalog.Chain(tier)
	if resolved != tier {
		e.logger.Warn("Unknown tier, using fallback", "tier", tier, "fallback", resolved)
	}
	return e.executor.Run(ctx, resolved, chain, fn, maxAttempts)
}

// EstimateCost prices tokens on a backend.
func (e *Engine) EstimateCost(b domain.BackendDescriptor, tokens int) (float64, error) {
	return cost.Estimate(b, tokens)
}

// GetHealthSnapshot returns one record per configured backend. Backends
// that have not been called yet are reported Healthy with a zero count.
func (e *Engine) GetHealthSnapshot() map[domain.BackendKey]domain.HealthRecord {
	snap := e.tracker.Snapshot(e.now())
	for _, b := range e.catalog.Backends() {
		if _, ok := snap[b.Key()]; !ok {
			snap[b.Key()] = domain.HealthRecord{State: domain.HealthStateHealthy}
		}
	}
	return snap
}

// Catalog exposes the tier configuration read-only.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Usage returns the usage tracker, or nil.
func (e *Engine) Usage() *usage.Tracker {
	return e.usage
}

// Decisions returns the decision log, or nil.
func (e *Engine) Decisions() storage.DecisionRepository {
	return e.decisions
}

// Route runs the whole cycle through the backend registry: classify, select
// a tier, execute with failover, estimate cost and log the decision.
// A chain exhaustion returns the result together with the error.
func (e *Engine) Route(ctx context.Context, q domain.Query, override *string, maxAttempts int) (*RouteResult, error) {
	if e.registry == nil {
		return nil, errors.New("engine: no backend registry configured")
	}

	start := e.now()
	c := e.Classify(q.Text, q.DeclaredType)
	tier := e.SelectTier(c, override)

	res := &RouteResult{
		DecisionID:     uuid.NewString(),
		Classification: c,
		Tier:           tier,
		Tokens:         c.EstimatedTokens,
	}

	outcome, runErr := e.Run(ctx, tier, e.registry.Execute(backend.Request{Prompt: q.Text}), maxAttempts)
	res.Outcome = outcome
	if runErr != nil && !errors.Is(runErr, failover.ErrChainExhausted) {
		// Caller cancellation: nothing is recorded.
		return nil, runErr
	}

	if outcome.Success {
		if resp, ok := outcome.Result.(*backend.Response); ok {
			res.Response = resp
			if n := resp.PromptTokens + resp.CompletionTokens; n > 0 {
				res.Tokens = n
			}
		}
		price, err := cost.Estimate(*outcome.BackendUsed, res.Tokens)
		if err != nil {
			return nil, err
		}
		res.EstimatedCost = price
		metrics.EstimatedCostTotal.WithLabelValues(tier, outcome.BackendUsed.Provider, outcome.BackendUsed.ModelID).Add(price)
	}

	e.record(ctx, res, e.now().Sub(start))

	if runErr != nil {
		e.logger.Error("Tier exhausted", "tier", tier, "attempts", outcome.Attempts, "error", runErr)
		return res, runErr
	}
	e.logger.Info("Routed query",
		"tier", tier,
		"type", c.Type,
		"complexity", c.Complexity.String(),
		"backend", outcome.BackendUsed.Key().String(),
		"attempts", outcome.Attempts,
		"cost", res.EstimatedCost,
	)
	return res, nil
}

func (e *Engine) record(ctx context.Context, res *RouteResult, latency time.Duration) {
	out := res.Outcome

	var key *domain.BackendKey
	if out.BackendUsed != nil {
		k := out.BackendUsed.Key()
		key = &k
	}

	if e.usage != nil {
		e.usage.Record(usage.Event{
			Tier:     res.Tier,
			Backend:  key,
			Success:  out.Success,
			Attempts: out.Attempts,
			Tokens:   res.Tokens,
			Cost:     res.EstimatedCost,
		})
		if e.usage.OverBudget() {
			e.logger.Warn("Daily estimated spend is over budget", "tier", res.Tier)
		}
	}

	if e.decisions == nil {
		return
	}
	d := &domain.Decision{
		ID:              res.DecisionID,
		Tier:            res.Tier,
		QueryType:       res.Classification.Type,
		Complexity:      res.Classification.Complexity,
		Success:         out.Success,
		Attempts:        out.Attempts,
		Errors:          out.Errors,
		EstimatedTokens: res.Tokens,
		EstimatedCost:   res.EstimatedCost,
		LatencyMs:       latency.Milliseconds(),
		CreatedAt:       e.now().UTC(),
	}
	if key != nil {
		d.Provider = key.Provider
		d.ModelID = key.ModelID
	}
	// Saved even when the caller has already gone away.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := e.decisions.Save(saveCtx, d); err != nil {
		metrics.DecisionLogErrorsTotal.Inc()
		e.logger.Warn("Failed to save routing decision", "id", d.ID, "error", err)
	}
}
