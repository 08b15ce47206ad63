package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled means the request never left the process because the
// provider's local rate limit had no token in time.
var ErrThrottled = errors.New("throttled by local rate limit")

// ThrottledError wraps the limiter's reason. It matches both ErrThrottled
// and the underlying error.
type ThrottledError struct {
	Provider string
	Err      error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Provider, ErrThrottled, e.Err)
}

func (e *ThrottledError) Unwrap() []error {
	return []error{ErrThrottled, e.Err}
}

// Throttled marks the error as a local rejection, not a backend fault.
func (e *ThrottledError) Throttled() bool {
	return true
}

// RateLimited throttles a backend to a fixed request rate. Callers block
// until a token is available or ctx ends.
type RateLimited struct {
	Backend
	limiter *rate.Limiter
}

// NewRateLimited wraps b. A non-positive rpm returns b unchanged.
func NewRateLimited(b Backend, rpm int) Backend {
	if rpm <= 0 {
		return b
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Backend: b,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
	}
}

// Complete waits for the limiter before delegating.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &ThrottledError{Provider: r.Name(), Err: err}
	}
	return r.Backend.Complete(ctx, req)
}
