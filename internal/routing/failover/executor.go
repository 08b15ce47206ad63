// Package failover walks a tier's backend chain until one backend succeeds.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/metrics"
	"github.com/vietddude/llmrouter/internal/routing/health"
)

// ExecuteFunc performs one call against a provider/model. It must honour ctx.
type ExecuteFunc func(ctx context.Context, provider, modelID string) (any, error)

// Config controls attempt bounds.
type Config struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 45 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Executor runs an ExecuteFunc against a chain with health gating.
type Executor struct {
	tracker *health.Tracker
	retry   *RetryPolicy
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor. It never mutates the chains it is given.
func New(tracker *health.Tracker, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	e := &Executor{
		tracker: tracker,
		retry:   NewRetryPolicy(cfg.Retry),
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type attemptResult struct {
	value any
	err   error
}

// Run tries eligible candidates in chain order and stops at the first
// success or once maxAttempts candidates were attempted. Degraded candidates,
// and candidates refused by a local rate limiter, are skipped without
// counting as an attempt or touching health. maxAttempts <= 0 uses the
// configured default.
//
// On exhaustion the outcome is returned together with a *ChainExhaustedError.
// If ctx ends, the in-flight attempt is recorded neither as success nor as
// failure and ctx.Err() is returned.
func (e *Executor) Run(
	ctx context.Context,
	tier string,
	chain []domain.BackendDescriptor,
	fn ExecuteFunc,
	maxAttempts int,
) (domain.ExecutionOutcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxAttempts
	}

	outcome := domain.ExecutionOutcome{Errors: []string{}}
	skipped := 0

	for _, candidate := range chain {
		if outcome.Attempts >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		key := candidate.Key()
		if !e.tracker.IsEligible(key, e.now()) {
			skipped++
			metrics.BackendSkippedTotal.WithLabelValues(tier, candidate.Provider, candidate.ModelID).Inc()
			e.logger.Debug("Skipping degraded backend", "tier", tier, "backend", key.String())
			continue
		}

		outcome.Attempts++
		start := e.now()
		value, err := e.attempt(ctx, candidate, fn)
		metrics.BackendLatency.WithLabelValues(candidate.Provider, candidate.ModelID).
			Observe(e.now().Sub(start).Seconds())

		if ctx.Err() != nil {
			// Caller went away; do not penalise the backend for it.
			metrics.BackendAttemptsTotal.WithLabelValues(tier, candidate.Provider, candidate.ModelID, "canceled").Inc()
			e.logger.Debug("Attempt canceled by caller", "tier", tier, "backend", key.String())
			return outcome, ctx.Err()
		}

		if err == nil {
			e.tracker.RecordSuccess(key, e.now())
			e.observe(key)
			metrics.BackendAttemptsTotal.WithLabelValues(tier, candidate.Provider, candidate.ModelID, "success").Inc()

			used := candidate
			outcome.Success = true
			outcome.BackendUsed = &used
			outcome.Result = value
			return outcome, nil
		}

		if IsThrottled(err) {
			// Refused locally before reaching the backend: not a health signal
			// and not an attempt, like a degraded skip.
			outcome.Attempts--
			skipped++
			metrics.BackendAttemptsTotal.WithLabelValues(tier, candidate.Provider, candidate.ModelID, "throttled").Inc()
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", candidate.Label(), err.Error()))
			e.logger.Warn("Backend throttled locally", "tier", tier, "backend", key.String(), "error", err)
			continue
		}

		result := "failure"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		e.tracker.RecordFailure(key, e.now())
		e.observe(key)
		metrics.BackendAttemptsTotal.WithLabelValues(tier, candidate.Provider, candidate.ModelID, result).Inc()

		outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", candidate.Label(), err.Error()))
		e.logger.Warn("Backend attempt failed",
			"tier", tier,
			"backend", key.String(),
			"attempt", outcome.Attempts,
			"action", ClassifyError(err).String(),
			"error", err,
		)
	}

	metrics.ChainExhaustedTotal.WithLabelValues(tier).Inc()
	return outcome, &ChainExhaustedError{
		Tier:     tier,
		Attempts: outcome.Attempts,
		Skipped:  skipped,
		Errors:   append([]string(nil), outcome.Errors...),
	}
}

// attempt runs fn on its own goroutine under the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, candidate domain.BackendDescriptor, fn ExecuteFunc) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var value any
		err := e.retry.Do(attemptCtx, func(ctx context.Context) error {
			v, err := fn(ctx, candidate.Provider, candidate.ModelID)
			if err == nil {
				value = v
			}
			return err
		}, func(n int, err error) {
			metrics.BackendRetriesTotal.WithLabelValues(candidate.Provider, candidate.ModelID).Inc()
			e.logger.Debug("Retrying backend",
				"backend", candidate.Key().String(),
				"retry", n,
				"error", err,
			)
		})
		done <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timed out after %s: %w", e.cfg.AttemptTimeout, context.DeadlineExceeded)
	}
}

func (e *Executor) observe(key domain.BackendKey) {
	rec := e.tracker.Record(key, e.now())
	metrics.BackendFailureCount.WithLabelValues(key.Provider, key.ModelID).Set(float64(rec.FailureCount))
	degraded := 0.0
	if rec.State == domain.HealthStateDegraded {
		degraded = 1
	}
	metrics.BackendDegraded.WithLabelValues(key.Provider, key.ModelID).Set(degraded)
}
