package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/infra/backend"
	"github.com/vietddude/llmrouter/internal/routing/health"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func testChain() []domain.BackendDescriptor {
	return []domain.BackendDescriptor{
		{Provider: "p1", ModelID: "m1", Tier: "premium", DisplayName: "Backend One"},
		{Provider: "p2", ModelID: "m2", Tier: "premium", DisplayName: "Backend Two"},
		{Provider: "p3", ModelID: "m3", Tier: "premium"},
	}
}

// callLog records which providers an ExecuteFunc was invoked for.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, p)
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func newExecutor(tr *health.Tracker) *Executor {
	return New(tr, Config{MaxAttempts: 3, AttemptTimeout: time.Second}, WithClock(fixedClock))
}

func TestRun_ShortCircuitsOnFirstSuccess(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)
	log := &callLog{}

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		if provider == "p1" {
			return nil, errors.New("upstream 503")
		}
		return "answer from " + provider, nil
	}, 3)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	require.NotNil(t, out.BackendUsed)
	assert.Equal(t, "p2", out.BackendUsed.Provider)
	assert.Equal(t, "answer from p2", out.Result)
	assert.Equal(t, []string{"Backend One: upstream 503"}, out.Errors)
	assert.Equal(t, []string{"p1", "p2"}, log.list())

	assert.Equal(t, 1, tr.Record(domain.BackendKey{Provider: "p1", ModelID: "m1"}, now).FailureCount)
	assert.NotNil(t, tr.Record(domain.BackendKey{Provider: "p2", ModelID: "m2"}, now).LastSuccessAt)
}

func TestRun_BoundedAttempts(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)
	log := &callLog{}

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		return nil, errors.New("boom")
	}, 2)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChainExhausted))

	var exhausted *ChainExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, "premium", exhausted.Tier)
	assert.Len(t, exhausted.Errors, 2)

	assert.False(t, out.Success)
	assert.Nil(t, out.BackendUsed)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []string{"Backend One: boom", "Backend Two: boom"}, out.Errors)
	assert.Equal(t, []string{"p1", "p2"}, log.list())
}

func TestRun_LabelFallsBackToKey(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)

	chain := testChain()[2:]
	out, err := ex.Run(context.Background(), "premium", chain, func(ctx context.Context, provider, model string) (any, error) {
		return nil, errors.New("nope")
	}, 0)

	require.Error(t, err)
	assert.Equal(t, []string{"p3/m3: nope"}, out.Errors)
}

func TestRun_SkipsDegradedBackendsForFree(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	degraded := domain.BackendKey{Provider: "p1", ModelID: "m1"}
	for i := 0; i < 3; i++ {
		tr.RecordFailure(degraded, now.Add(-time.Minute))
	}

	ex := newExecutor(tr)
	log := &callLog{}

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		return "ok", nil
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "p2", out.BackendUsed.Provider)
	assert.Equal(t, []string{"p2"}, log.list())
}

func TestRun_NoEligibleBackend(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	for _, b := range testChain() {
		for i := 0; i < 3; i++ {
			tr.RecordFailure(b.Key(), now)
		}
	}

	ex := newExecutor(tr)
	called := false
	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		called = true
		return nil, nil
	}, 3)

	var exhausted *ChainExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 0, exhausted.Attempts)
	assert.Equal(t, 3, exhausted.Skipped)
	assert.Equal(t, 0, out.Attempts)
	assert.False(t, called)
}

func TestRun_LocalThrottlingDoesNotDegrade(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{MaxAttempts: 3, AttemptTimeout: 50 * time.Millisecond}, WithClock(fixedClock))
	chain := testChain()[:1]

	// One request per minute: the first call gets the token, the rest are
	// refused before reaching the backend.
	limited := backend.NewRateLimited(&echoBackend{}, 1)
	fn := func(ctx context.Context, provider, model string) (any, error) {
		return limited.Complete(ctx, backend.Request{Model: model})
	}

	out, err := ex.Run(context.Background(), "premium", chain, fn, 0)
	require.NoError(t, err)
	require.True(t, out.Success)

	for i := 0; i < 3; i++ {
		out, err = ex.Run(context.Background(), "premium", chain, fn, 0)
		require.ErrorIs(t, err, ErrChainExhausted)

		var exhausted *ChainExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 0, exhausted.Attempts)
		assert.Equal(t, 1, exhausted.Skipped)
		require.Len(t, out.Errors, 1)
		assert.Contains(t, out.Errors[0], "throttled")
	}

	key := chain[0].Key()
	assert.Equal(t, domain.HealthStateHealthy, tr.State(key, now))
	assert.Zero(t, tr.Record(key, now).FailureCount)
}

func TestRun_ThrottledCandidateFailsOverToNext(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)
	log := &callLog{}

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		if provider == "p1" {
			return nil, &backend.ThrottledError{Provider: provider, Err: errors.New("would exceed context deadline")}
		}
		return "ok", nil
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "p2", out.BackendUsed.Provider)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{"p1", "p2"}, log.list())
	assert.Zero(t, tr.Record(domain.BackendKey{Provider: "p1", ModelID: "m1"}, now).FailureCount)
}

type echoBackend struct{}

func (echoBackend) Name() string { return "p1" }

func (echoBackend) Complete(ctx context.Context, req backend.Request) (*backend.Response, error) {
	return &backend.Response{Provider: "p1", Model: req.Model, Text: "ok"}, nil
}

func (echoBackend) Close() error { return nil }

func TestRun_TimeoutCountsAsFailure(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{MaxAttempts: 3, AttemptTimeout: 20 * time.Millisecond}, WithClock(fixedClock))

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		if provider == "p1" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "ok", nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "Backend One:")
	assert.Equal(t, 1, tr.Record(domain.BackendKey{Provider: "p1", ModelID: "m1"}, now).FailureCount)
}

func TestRun_TimeoutWithUncooperativeBackend(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond}, WithClock(fixedClock))

	release := make(chan struct{})
	defer close(release)

	_, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		<-release
		return "too late", nil
	}, 1)

	var exhausted *ChainExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Errors, 1)
	assert.Contains(t, exhausted.Errors[0], "timed out")
}

func TestRun_CallerCancellationIsNotRecorded(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	out, err := ex.Run(ctx, "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, 3)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrChainExhausted))
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, tr.Snapshot(now))
}

func TestRun_AlreadyCanceledContext(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	out, err := ex.Run(ctx, "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		called = true
		return nil, nil
	}, 3)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, out.Attempts)
	assert.False(t, called)
}

func TestRun_DefaultMaxAttempts(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{MaxAttempts: 2, AttemptTimeout: time.Second}, WithClock(fixedClock))
	log := &callLog{}

	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		return nil, errors.New("fail")
	}, 0)

	require.Error(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, log.list(), 2)
}

func TestRun_DoesNotMutateChain(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := newExecutor(tr)
	chain := testChain()
	before := testChain()

	out, err := ex.Run(context.Background(), "premium", chain, func(ctx context.Context, provider, model string) (any, error) {
		return "ok", nil
	}, 3)
	require.NoError(t, err)

	out.BackendUsed.ModelID = "changed"
	assert.Equal(t, before, chain)
}

func TestRun_RetriesTransientErrorsOnSameBackend(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		Retry:          RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, WithClock(fixedClock))

	log := &callLog{}
	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		if len(log.list()) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return "ok", nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "p1", out.BackendUsed.Provider)
	assert.Equal(t, []string{"p1", "p1", "p1"}, log.list())
}

func TestRun_FailoverErrorsAreNotRetried(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	ex := New(tr, Config{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		Retry:          RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, WithClock(fixedClock))

	log := &callLog{}
	out, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
		log.add(provider)
		if provider == "p1" {
			return nil, errors.New("429 Too Many Requests")
		}
		return "ok", nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []string{"p1", "p2"}, log.list())
}

func TestRun_ConcurrentRequests(t *testing.T) {
	tr := health.NewTracker(health.Config{FailureThreshold: 1000, Cooldown: time.Minute})
	ex := newExecutor(tr)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ex.Run(context.Background(), "premium", testChain(), func(ctx context.Context, provider, model string) (any, error) {
				if provider == "p1" {
					return nil, errors.New("down")
				}
				return "ok", nil
			}, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, tr.Record(domain.BackendKey{Provider: "p1", ModelID: "m1"}, now).FailureCount)
}
