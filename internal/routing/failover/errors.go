package failover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrChainExhausted is matched by every *ChainExhaustedError.
var ErrChainExhausted = errors.New("chain exhausted")

// ChainExhaustedError is returned when no candidate of a tier succeeded,
// either because every attempted backend failed or because none was eligible.
type ChainExhaustedError struct {
	Tier     string
	Attempts int
	Skipped  int
	Errors   []string
}

func (e *ChainExhaustedError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("tier %s: no eligible backend (%d skipped)", e.Tier, e.Skipped)
	}
	return fmt.Sprintf("tier %s: all %d attempts failed: %s", e.Tier, e.Attempts, strings.Join(e.Errors, "; "))
}

func (e *ChainExhaustedError) Unwrap() error {
	return ErrChainExhausted
}

// ErrorAction determines how an attempt error is handled.
type ErrorAction int

const (
	// ActionRetry retries the same backend inside the current attempt.
	ActionRetry ErrorAction = iota
	// ActionFailover gives up on the backend and moves to the next candidate.
	ActionFailover
)

func (a ErrorAction) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "failover"
}

// statusCoder is implemented by backend errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

var failoverPatterns = []string{
	"429",
	"403",
	"too many requests",
	"forbidden",
	"quota",
	"plan limit",
	"unauthorized",
	"rate limit",
	"resource exhausted",
	"resource_exhausted",
	"permission denied",
	"api key",
	"safety",
	"blocked",
}

// throttler is implemented by errors for requests a local limiter refused
// before they reached the backend.
type throttler interface {
	Throttled() bool
}

// IsThrottled reports whether err is a local rate-limit rejection. Such
// errors say nothing about the backend's health.
func IsThrottled(err error) bool {
	var t throttler
	return errors.As(err, &t) && t.Throttled()
}

// ClassifyError decides whether an error is worth retrying on the same backend.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, context.Canceled) || IsThrottled(err) {
		return ActionFailover
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ActionRetry
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		switch {
		case code == http.StatusRequestTimeout, code >= 500:
			return ActionRetry
		case code >= 400:
			return ActionFailover
		}
	}

	s := strings.ToLower(err.Error())
	for _, p := range failoverPatterns {
		if strings.Contains(s, p) {
			return ActionFailover
		}
	}

	// Network, 5xx without a typed status, etc.
	return ActionRetry
}
