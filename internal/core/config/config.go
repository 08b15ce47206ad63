package config

import (
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/infra/backend"
	redisclient "github.com/vietddude/llmrouter/internal/infra/redis"
	"github.com/vietddude/llmrouter/internal/infra/storage/postgres"
	"github.com/vietddude/llmrouter/internal/routing/classifier"
	"github.com/vietddude/llmrouter/internal/routing/failover"
	"github.com/vietddude/llmrouter/internal/routing/health"
	"github.com/vietddude/llmrouter/internal/routing/usage"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig                          `yaml:"server"`
	Logging    LoggingConfig                         `yaml:"logging"`
	Routing    RoutingConfig                         `yaml:"routing"`
	Tiers      map[string][]domain.BackendDescriptor `yaml:"tiers"      validate:"required,min=1,dive,min=1,dive"`
	Providers  []backend.Config                      `yaml:"providers"  validate:"dive"`
	Classifier classifier.Overrides                  `yaml:"classifier"`
	Usage      usage.Config                          `yaml:"usage"`
	Redis      redisclient.Config                    `yaml:"redis"`
	Database   postgres.Config                       `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"     validate:"gte=0,lte=65535"`
	Instance string `yaml:"instance"` // replica name in published health snapshots
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// RoutingConfig holds failover and health settings.
type RoutingConfig struct {
	FallbackTier   string               `yaml:"fallback_tier"   validate:"required"`
	MaxAttempts    int                  `yaml:"max_attempts"    validate:"gte=1"`
	AttemptTimeout time.Duration        `yaml:"attempt_timeout" validate:"gt=0"`
	Health         health.Config        `yaml:"health"`
	Retry          failover.RetryConfig `yaml:"retry"`
}

// Executor returns the failover settings.
func (r RoutingConfig) Executor() failover.Config {
	return failover.Config{
		MaxAttempts:    r.MaxAttempts,
		AttemptTimeout: r.AttemptTimeout,
		Retry:          r.Retry,
	}
}
