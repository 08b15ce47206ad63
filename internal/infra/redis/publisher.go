package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// SnapshotSource returns the current health snapshot.
type SnapshotSource func() map[domain.BackendKey]domain.HealthRecord

// snapshotWriter is the part of Client the publisher needs.
type snapshotWriter interface {
	PublishSnapshot(ctx context.Context, snap HealthSnapshot, ttl time.Duration) error
}

// Publisher periodically exports this replica's health snapshot.
// Health state is never read back from Redis.
type Publisher struct {
	writer   snapshotWriter
	source   SnapshotSource
	instance string
	interval time.Duration
	logger   *slog.Logger
}

// NewPublisher creates a publisher. interval <= 0 uses 15s.
func NewPublisher(client *Client, source SnapshotSource, instance string, interval time.Duration, logger *slog.Logger) *Publisher {
	return newPublisher(client, source, instance, interval, logger)
}

func newPublisher(w snapshotWriter, source SnapshotSource, instance string, interval time.Duration, logger *slog.Logger) *Publisher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer:   w,
		source:   source,
		instance: instance,
		interval: interval,
		logger:   logger,
	}
}

// Run publishes immediately and then on every tick until ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	snap := HealthSnapshot{
		Instance:    p.instance,
		PublishedAt: time.Now().UTC(),
		Backends:    p.source(),
	}
	if err := p.writer.PublishSnapshot(ctx, snap, 3*p.interval); err != nil && ctx.Err() == nil {
		p.logger.Warn("Failed to publish health snapshot", "instance", p.instance, "error", err)
	}
}
