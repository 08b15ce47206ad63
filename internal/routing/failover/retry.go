package failover

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds same-backend retries inside a single attempt.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterPercent int           `yaml:"jitter_percent"`
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 20,
	}
}

// RetryPolicy is the one place backoff is decided. Only errors classified
// ActionRetry are retried; everything else is returned on first sight.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a policy. MaxRetries of zero disables retries.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.JitterPercent < 0 || cfg.JitterPercent > 100 {
		cfg.JitterPercent = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &RetryPolicy{cfg: cfg}
}

func (p *RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.cfg.InitialDelay)
	if p.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(p.cfg.JitterPercent), b)
	}
	b = retry.WithCappedDuration(p.cfg.MaxDelay, b)
	return retry.WithMaxRetries(uint64(p.cfg.MaxRetries), b)
}

// Do calls fn until it succeeds, returns a non-retryable error, the retry
// budget is spent or ctx is done. onRetry, if set, runs before every retry.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(retry int, err error)) error {
	if p.cfg.MaxRetries == 0 {
		return fn(ctx)
	}

	calls := 0
	var lastErr error
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if calls > 0 && onRetry != nil {
			onRetry(calls, lastErr)
		}
		calls++

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ClassifyError(err) != ActionRetry {
			return err
		}
		return retry.RetryableError(err)
	})
	// retry.Do reports ctx.Err() when the context ends during a backoff; the
	// backend error that caused the retry is more useful.
	if err != nil && lastErr != nil && ctx.Err() != nil && err == ctx.Err() {
		return lastErr
	}
	return err
}
