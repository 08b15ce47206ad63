package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/llmrouter/internal/routing/failover"
	"github.com/vietddude/llmrouter/internal/routing/health"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Server.Instance = host
		} else {
			c.Server.Instance = "llmrouter"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	def := failover.DefaultConfig()
	if c.Routing.FallbackTier == "" {
		c.Routing.FallbackTier = "balanced"
	}
	if c.Routing.MaxAttempts == 0 {
		c.Routing.MaxAttempts = def.MaxAttempts
	}
	if c.Routing.AttemptTimeout == 0 {
		c.Routing.AttemptTimeout = def.AttemptTimeout
	}
	if c.Routing.Retry == (failover.RetryConfig{}) {
		c.Routing.Retry = def.Retry
	}

	hdef := health.DefaultConfig()
	if c.Routing.Health.FailureThreshold == 0 {
		c.Routing.Health.FailureThreshold = hdef.FailureThreshold
	}
	if c.Routing.Health.Cooldown == 0 {
		c.Routing.Health.Cooldown = hdef.Cooldown
	}

	if c.Redis.PublishInterval == 0 {
		c.Redis.PublishInterval = 15 * time.Second
	}

	for i := range c.Providers {
		if c.Providers[i].Timeout == 0 {
			c.Providers[i].Timeout = 60 * time.Second
		}
	}
}

// Validate checks struct tags and cross-field rules. Tier chain rules are
// enforced again by the catalog at startup.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, ok := c.Tiers[c.Routing.FallbackTier]; !ok {
		return fmt.Errorf("invalid config: fallback tier %q has no backends", c.Routing.FallbackTier)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.Name] {
			return fmt.Errorf("invalid config: provider %s declared twice", p.Name)
		}
		seen[p.Name] = true
	}
	for tier, chain := range c.Tiers {
		for _, b := range chain {
			if !seen[b.Provider] {
				return fmt.Errorf("invalid config: tier %s uses undeclared provider %s", tier, b.Provider)
			}
		}
	}
	return nil
}
