// Package backend implements AI provider adapters.
//
// This package contains:
//   - Backend interface: one provider able to serve many models
//   - OpenAI: OpenAI-compatible chat completions over HTTP
//   - Gemini: Google Gemini through the generative-ai-go SDK
//   - RateLimited: per-provider request rate limiter
//   - Registry: provider name -> Backend, built once at startup
package backend

import (
	"context"
	"fmt"
	"time"
)

// Kinds of backend understood by New.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
)

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Response is a completed generation.
type Response struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Text             string        `json:"text"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`
}

// Backend is one AI provider.
type Backend interface {
	// Name returns the provider name used in tier chains (e.g., "openai", "gemini")
	Name() string

	// Complete runs one generation against req.Model
	Complete(ctx context.Context, req Request) (*Response, error)

	// Close releases resources
	Close() error
}

// Config holds settings for one provider.
type Config struct {
	Name              string        `yaml:"name"                validate:"required"`
	Kind              string        `yaml:"kind"                validate:"required,oneof=openai gemini"`
	BaseURL           string        `yaml:"base_url"            validate:"omitempty,url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	RetryAfter string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	if e.RetryAfter != "" {
		msg += ", retry after " + e.RetryAfter
	}
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 200)
	}
	return msg
}

// HTTPStatus exposes the status code to error classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// New builds the backend described by cfg, wrapped in a rate limiter when
// RequestsPerMinute is set.
func New(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Kind {
	case KindOpenAI:
		b, err = NewOpenAI(cfg)
	case KindGemini:
		b, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported backend kind %q for provider %s", cfg.Kind, cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("create backend %s: %w", cfg.Name, err)
	}
	return NewRateLimited(b, cfg.RequestsPerMinute), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
