package redis

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

type fakeWriter struct {
	mu    sync.Mutex
	snaps []HealthSnapshot
	ttls  []time.Duration
}

func (f *fakeWriter) PublishSnapshot(ctx context.Context, snap HealthSnapshot, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	f.ttls = append(f.ttls, ttl)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

var gpt = domain.BackendKey{Provider: "openai", ModelID: "gpt-4o"}

func TestPublisher_Run(t *testing.T) {
	w := &fakeWriter{}
	source := func() map[domain.BackendKey]domain.HealthRecord {
		return map[domain.BackendKey]domain.HealthRecord{
			gpt: {FailureCount: 2, State: domain.HealthStateHealthy},
		}
	}
	p := newPublisher(w, source, "replica-a", 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return w.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, "replica-a", w.snaps[0].Instance)
	assert.Equal(t, 2, w.snaps[0].Backends[gpt].FailureCount)
	assert.Equal(t, 30*time.Millisecond, w.ttls[0])
}

func TestHealthSnapshot_JSON(t *testing.T) {
	failedAt := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	snap := HealthSnapshot{
		Instance: "replica-a",
		Backends: map[domain.BackendKey]domain.HealthRecord{
			gpt: {FailureCount: 3, LastFailureAt: &failedAt, State: domain.HealthStateDegraded},
		},
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"openai/gpt-4o"`)

	back, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStateDegraded, back.Backends[gpt].State)
	assert.True(t, back.Backends[gpt].LastFailureAt.Equal(failedAt))
}

// Requires a Redis server; set REDIS_TEST_URL (e.g. redis://localhost:6379/15).
func TestClient_PublishAndList(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	client, err := NewClient(Config{URL: url})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	instance := "test-" + t.Name()
	defer client.rdb.Del(ctx, snapshotKey(instance))

	snap := HealthSnapshot{
		Instance:    instance,
		PublishedAt: time.Now().UTC(),
		Backends:    map[domain.BackendKey]domain.HealthRecord{gpt: {FailureCount: 1}},
	}
	require.NoError(t, client.PublishSnapshot(ctx, snap, time.Minute))

	got, err := client.GetSnapshot(ctx, instance)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Backends[gpt].FailureCount)

	all, err := client.ListSnapshots(ctx)
	require.NoError(t, err)
	found := false
	for _, s := range all {
		if s.Instance == instance {
			found = true
		}
	}
	assert.True(t, found)

	missing, err := client.GetSnapshot(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
