package engine

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
	"github.com/vietddude/llmrouter/internal/infra/storage"
	"github.com/vietddude/llmrouter/internal/infra/storage/memory"
	"github.com/vietddude/llmrouter/internal/routing/catalog"
	"github.com/vietddude/llmrouter/internal/routing/classifier"
	"github.com/vietddude/llmrouter/internal/routing/failover"
	"github.com/vietddude/llmrouter/internal/routing/health"
	"github.com/vietddude/llmrouter/internal/routing/usage"
)

var now = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

type fakeBackend struct {
	name string
	fail map[string]error // model -> error

	mu     sync.Mutex
	models []string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, req backend.Request) (*backend.Response, error) {
	f.mu.Lock()
	f.models = append(f.models, req.Model)
	f.mu.Unlock()
	if err := f.fail[req.Model]; err != nil {
		return nil, err
	}
	return &backend.Response{
		Provider:         f.name,
		Model:            req.Model,
		Text:             "answer",
		PromptTokens:     100,
		CompletionTokens: 400,
	}, nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func testTiers() map[string][]domain.BackendDescriptor {
	return map[string][]domain.BackendDescriptor{
		"free": {
			{Provider: "gemini", ModelID: "flash-lite", CostPerMillionTokens: 0, DisplayName: "Flash Lite"},
		},
		"budget": {
			{Provider: "gemini", ModelID: "flash", CostPerMillionTokens: 0.3},
		},
		"balanced": {
			{Provider: "openai", ModelID: "gpt-4o-mini", CostPerMillionTokens: 0.6},
			{Provider: "gemini", ModelID: "flash", CostPerMillionTokens: 0.3},
		},
		"premium": {
			{Provider: "openai", ModelID: "gpt-4o", CostPerMillionTokens: 10, DisplayName: "GPT-4o"},
			{Provider: "gemini", ModelID: "pro", CostPerMillionTokens: 5, DisplayName: "Gemini Pro"},
			{Provider: "openai", ModelID: "o3", CostPerMillionTokens: 40},
		},
	}
}

type fixture struct {
	engine    *Engine
	openai    *fakeBackend
	gemini    *fakeBackend
	tracker   *health.Tracker
	usage     *usage.Tracker
	decisions *memory.DecisionRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cls, err := classifier.New(classifier.DefaultRules())
	require.NoError(t, err)
	cat, err := catalog.New(testTiers(), "balanced")
	require.NoError(t, err)

	clock := func() time.Time { return now }
	tracker := health.NewTracker(health.DefaultConfig())
	exec := failover.New(tracker, failover.Config{MaxAttempts: 3, AttemptTimeout: time.Second}, failover.WithClock(clock))

	f := &fixture{
		openai:    &fakeBackend{name: "openai", fail: map[string]error{}},
		gemini:    &fakeBackend{name: "gemini", fail: map[string]error{}},
		tracker:   tracker,
		usage:     usage.NewTrackerWithClock(usage.Config{}, clock),
		decisions: memory.NewDecisionRepo(0),
	}
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(f.openai))
	require.NoError(t, reg.Register(f.gemini))

	f.engine, err = New(Deps{
		Classifier: cls,
		Catalog:    cat,
		Tracker:    tracker,
		Executor:   exec,
		Usage:      f.usage,
		Registry:   reg,
		Decisions:  f.decisions,
		Clock:      clock,
	})
	require.NoError(t, err)
	return f
}

func strPtr(s string) *string { return &s }

func TestSelectTier_TotalMapping(t *testing.T) {
	f := newFixture(t)

	for _, qt := range domain.QueryTypes {
		for _, cx := range domain.Complexities {
			c := domain.Classification{Type: qt, Complexity: cx}
			c.RecommendedTier = f.engine.classifier.Rules().TierTable[qt][cx.String()]

			tier := f.engine.SelectTier(c, nil)
			require.NotEmpty(t, tier, "%s/%s", qt, cx)
			_, chain := f.engine.Catalog().Chain(tier)
			assert.NotEmpty(t, chain, "%s/%s", qt, cx)
			assert.True(t, f.engine.Catalog().Has(tier))
		}
	}
}

func TestSelectTier_Override(t *testing.T) {
	f := newFixture(t)
	c := domain.Classification{RecommendedTier: "free"}

	assert.Equal(t, "premium", f.engine.SelectTier(c, strPtr("premium")))
	assert.Equal(t, "free", f.engine.SelectTier(c, strPtr("platinum")))
	assert.Equal(t, "free", f.engine.SelectTier(c, strPtr("")))
	assert.Equal(t, "free", f.engine.SelectTier(c, nil))
	assert.Equal(t, "balanced", f.engine.SelectTier(domain.Classification{RecommendedTier: "gone"}, nil))
}

func TestClassify_EndToEndExamples(t *testing.T) {
	f := newFixture(t)

	c := f.engine.Classify("Draft a detailed legal notice for breach of contract with case law analysis", "")
	assert.Equal(t, domain.QueryTypeLegalCore, c.Type)
	assert.Equal(t, domain.ComplexityComplex, c.Complexity)
	assert.Equal(t, "premium", c.RecommendedTier)

	c = f.engine.Classify("What is Section 138?", "")
	assert.Equal(t, domain.QueryTypeExplainer, c.Type)
	assert.Equal(t, domain.ComplexitySimple, c.Complexity)
	assert.Equal(t, "free", c.RecommendedTier)
}

func TestRun_UnknownTierUsesFallback(t *testing.T) {
	f := newFixture(t)

	var got []string
	out, err := f.engine.Run(context.Background(), "nonexistent", func(ctx context.Context, provider, model string) (any, error) {
		got = append(got, provider+"/"+model)
		return "ok", nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "balanced", out.BackendUsed.Tier)
	assert.Equal(t, []string{"openai/gpt-4o-mini"}, got)
}

func TestRoute_PremiumFailsOver(t *testing.T) {
	f := newFixture(t)
	f.openai.fail["gpt-4o"] = &backend.StatusError{Provider: "openai", StatusCode: 429}

	res, err := f.engine.Route(context.Background(), domain.Query{
		Text: "Draft a detailed legal notice for breach of contract with case law analysis",
	}, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "premium", res.Tier)
	assert.True(t, res.Outcome.Success)
	assert.Equal(t, 2, res.Outcome.Attempts)
	assert.Equal(t, "pro", res.Outcome.BackendUsed.ModelID)
	require.Len(t, res.Outcome.Errors, 1)
	assert.Contains(t, res.Outcome.Errors[0], "GPT-4o: openai: http 429")
	assert.Equal(t, "answer", res.Response.Text)
	assert.Equal(t, 500, res.Tokens)
	assert.InDelta(t, 500.0/1e6*5, res.EstimatedCost, 1e-12)

	// o3 never tried
	assert.Equal(t, []string{"gpt-4o"}, f.openai.calls())

	d, err := f.decisions.Get(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "gemini", d.Provider)
	assert.Equal(t, domain.QueryTypeLegalCore, d.QueryType)
	assert.Equal(t, 2, d.Attempts)

	assert.Equal(t, 1, f.usage.Report().Tiers["premium"].Successes)
	assert.Equal(t, 1, f.engine.GetHealthSnapshot()[domain.BackendKey{Provider: "openai", ModelID: "gpt-4o"}].FailureCount)
}

func TestRoute_ExplainerOnFreeTier(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Route(context.Background(), domain.Query{Text: "What is Section 138?"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "free", res.Tier)
	assert.Equal(t, "Flash Lite", res.Outcome.BackendUsed.DisplayName)
	assert.Zero(t, res.EstimatedCost)
}

func TestRoute_ChainExhausted(t *testing.T) {
	f := newFixture(t)
	f.gemini.fail["flash-lite"] = errors.New("403 Forbidden")

	res, err := f.engine.Route(context.Background(), domain.Query{Text: "What is Section 138?"}, nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failover.ErrChainExhausted))
	require.NotNil(t, res)
	assert.False(t, res.Outcome.Success)
	assert.Equal(t, []string{"Flash Lite: 403 Forbidden"}, res.Outcome.Errors)

	list, err := f.decisions.List(context.Background(), storage.DecisionFilter{Tier: "free"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Success)
	assert.Equal(t, 1, f.usage.Report().Tiers["free"].Failures)
}

func TestRoute_OverrideAndMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.openai.fail["gpt-4o"] = errors.New("quota exceeded")
	f.gemini.fail["pro"] = errors.New("quota exceeded")

	res, err := f.engine.Route(context.Background(), domain.Query{Text: "What is Section 138?"}, strPtr("premium"), 2)
	require.Error(t, err)
	assert.Equal(t, "premium", res.Tier)
	assert.Equal(t, 2, res.Outcome.Attempts)
	assert.Empty(t, f.openai.calls()[1:])
}

func TestRoute_CanceledIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.Route(ctx, domain.Query{Text: "What is Section 138?"}, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	list, _ := f.decisions.List(context.Background(), storage.DecisionFilter{})
	assert.Empty(t, list)
	assert.Empty(t, f.engine.GetHealthSnapshot())
}

func TestNew_ConfigurationErrors(t *testing.T) {
	cls, err := classifier.New(classifier.DefaultRules())
	require.NoError(t, err)
	tracker := health.NewTracker(health.DefaultConfig())
	exec := failover.New(tracker, failover.DefaultConfig())

	// premium is referenced by the routing table but missing here
	tiers := testTiers()
	delete(tiers, "premium")
	cat, err := catalog.New(tiers, "balanced")
	require.NoError(t, err)

	_, err = New(Deps{Classifier: cls, Catalog: cat, Tracker: tracker, Executor: exec})
	var cfgErr *catalog.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "premium", cfgErr.Tier)

	// provider without backend
	cat, err = catalog.New(testTiers(), "balanced")
	require.NoError(t, err)
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&fakeBackend{name: "openai"}))
	_, err = New(Deps{Classifier: cls, Catalog: cat, Tracker: tracker, Executor: exec, Registry: reg})
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "gemini")

	_, err = New(Deps{Classifier: cls})
	assert.Error(t, err)
}

func TestEstimateCost(t *testing.T) {
	f := newFixture(t)
	b := domain.BackendDescriptor{CostPerMillionTokens: 3}

	one, err := f.engine.EstimateCost(b, 1000)
	require.NoError(t, err)
	two, err := f.engine.EstimateCost(b, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 2*one, two, 1e-12)

	_, err = f.engine.EstimateCost(b, -5)
	assert.Error(t, err)
}
