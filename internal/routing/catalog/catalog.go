// Package catalog holds the static tier -> ordered backend chain configuration.
//
// The catalog is built and validated once at startup. Chain order encodes
// cost/quality preference (highest priority first) and is never reordered.
package catalog

import (
	"fmt"
	"sort"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// ConfigurationError reports a catalog that must not be used to serve requests.
type ConfigurationError struct {
	Tier   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Tier == "" {
		return fmt.Sprintf("catalog configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("catalog configuration error: tier %q: %s", e.Tier, e.Reason)
}

// Catalog maps tier names to ordered backend chains.
type Catalog struct {
	chains       map[string][]domain.BackendDescriptor
	fallbackTier string
}

// New builds a catalog and validates it. Each descriptor's Tier is set to the
// tier it is listed under; an explicit, conflicting Tier is rejected.
func New(tiers map[string][]domain.BackendDescriptor, fallbackTier string) (*Catalog, error) {
	c := &Catalog{
		chains:       make(map[string][]domain.BackendDescriptor, len(tiers)),
		fallbackTier: fallbackTier,
	}

	for tier, chain := range tiers {
		copied := make([]domain.BackendDescriptor, len(chain))
		for i, b := range chain {
			if b.Tier != "" && b.Tier != tier {
				return nil, &ConfigurationError{
					Tier:   tier,
					Reason: fmt.Sprintf("backend %s declares tier %q", b.Key(), b.Tier),
				}
			}
			b.Tier = tier
			copied[i] = b
		}
		c.chains[tier] = copied
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every chain is non-empty and well formed and that the fallback tier exists.
func (c *Catalog) Validate() error {
	if len(c.chains) == 0 {
		return &ConfigurationError{Reason: "no tiers configured"}
	}

	for _, tier := range c.Tiers() {
		chain := c.chains[tier]
		if len(chain) == 0 {
			return &ConfigurationError{Tier: tier, Reason: "chain is empty"}
		}
		seen := make(map[domain.BackendKey]bool, len(chain))
		for i, b := range chain {
			if b.Provider == "" || b.ModelID == "" {
				return &ConfigurationError{
					Tier:   tier,
					Reason: fmt.Sprintf("backend #%d is missing provider or model_id", i),
				}
			}
			if b.CostPerMillionTokens < 0 {
				return &ConfigurationError{
					Tier:   tier,
					Reason: fmt.Sprintf("backend %s has negative cost", b.Key()),
				}
			}
			if seen[b.Key()] {
				return &ConfigurationError{
					Tier:   tier,
					Reason: fmt.Sprintf("backend %s listed twice", b.Key()),
				}
			}
			seen[b.Key()] = true
		}
	}

	if c.fallbackTier == "" {
		return &ConfigurationError{Reason: "fallback tier is not set"}
	}
	if _, ok := c.chains[c.fallbackTier]; !ok {
		return &ConfigurationError{Tier: c.fallbackTier, Reason: "fallback tier is not configured"}
	}
	return nil
}

// RequireTiers fails if any of the named tiers has no chain.
func (c *Catalog) RequireTiers(tiers []string) error {
	for _, tier := range tiers {
		if !c.Has(tier) {
			return &ConfigurationError{Tier: tier, Reason: "referenced by routing table but not configured"}
		}
	}
	return nil
}

// Has reports whether the tier is configured.
func (c *Catalog) Has(tier string) bool {
	_, ok := c.chains[tier]
	return ok
}

// Chain returns a copy of the tier's chain. An unknown tier resolves to the
// fallback tier, so the result is never empty for a validated catalog.
func (c *Catalog) Chain(tier string) (string, []domain.BackendDescriptor) {
	chain, ok := c.chains[tier]
	if !ok {
		tier = c.fallbackTier
		chain = c.chains[tier]
	}
	out := make([]domain.BackendDescriptor, len(chain))
	copy(out, chain)
	return tier, out
}

// FallbackTier returns the tier used for unknown tier names.
func (c *Catalog) FallbackTier() string {
	return c.fallbackTier
}

// Tiers returns the configured tier names, sorted.
func (c *Catalog) Tiers() []string {
	tiers := make([]string, 0, len(c.chains))
	for t := range c.chains {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	return tiers
}

// Backends returns every configured descriptor, tier by tier in sorted tier order.
func (c *Catalog) Backends() []domain.BackendDescriptor {
	var all []domain.BackendDescriptor
	for _, tier := range c.Tiers() {
		all = append(all, c.chains[tier]...)
	}
	return all
}

// Providers returns the distinct provider names used by any chain.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var providers []string
	for _, b := range c.Backends() {
		if !seen[b.Provider] {
			seen[b.Provider] = true
			providers = append(providers, b.Provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// Find returns the descriptor for a key, searching every tier.
func (c *Catalog) Find(key domain.BackendKey) (domain.BackendDescriptor, bool) {
	for _, b := range c.Backends() {
		if b.Key() == key {
			return b, true
		}
	}
	return domain.BackendDescriptor{}, false
}
