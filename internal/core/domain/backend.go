package domain

import (
	"fmt"
	"strings"
)

// BackendDescriptor identifies one (provider, model) pair inside a tier chain.
// Descriptors are loaded once at startup and never modified.
type BackendDescriptor struct {
	Provider             string  `json:"provider"                yaml:"provider"                validate:"required"`
	ModelID              string  `json:"model_id"                yaml:"model_id"                validate:"required"`
	Tier                 string  `json:"tier"                    yaml:"tier"`
	CostPerMillionTokens float64 `json:"cost_per_million_tokens" yaml:"cost_per_million_tokens" validate:"gte=0"`
	DisplayName          string  `json:"display_name"            yaml:"display_name"`
}

// Key returns the health-tracking key of the descriptor.
func (b BackendDescriptor) Key() BackendKey {
	return BackendKey{Provider: b.Provider, ModelID: b.ModelID}
}

// Label returns the display name, falling back to provider/model.
func (b BackendDescriptor) Label() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.Key().String()
}

// BackendKey keys health records by (provider, model).
type BackendKey struct {
	Provider string
	ModelID  string
}

func (k BackendKey) String() string {
	return k.Provider + "/" + k.ModelID
}

// MarshalText lets BackendKey be used as a JSON object key.
func (k BackendKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "provider/model". Model ids may themselves contain slashes.
func (k *BackendKey) UnmarshalText(b []byte) error {
	provider, model, ok := strings.Cut(string(b), "/")
	if !ok || provider == "" || model == "" {
		return fmt.Errorf("invalid backend key %q", string(b))
	}
	k.Provider = provider
	k.ModelID = model
	return nil
}
