// Package cost turns token estimates into spend estimates.
package cost

import (
	"errors"
	"fmt"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// ErrInvalidArgument is returned for negative token counts.
var ErrInvalidArgument = errors.New("invalid argument")

const tokensPerUnit = 1_000_000

// Estimate returns tokens / 1e6 * backend.CostPerMillionTokens.
func Estimate(backend domain.BackendDescriptor, tokens int) (float64, error) {
	if tokens < 0 {
		return 0, fmt.Errorf("%w: tokens must be >= 0, got %d", ErrInvalidArgument, tokens)
	}
	return float64(tokens) / tokensPerUnit * backend.CostPerMillionTokens, nil
}
