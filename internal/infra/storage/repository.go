package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

var (
	// ErrDecisionNotFound is returned when a decision doesn't exist
	ErrDecisionNotFound = errors.New("decision not found")
)

// DecisionFilter narrows a decision listing. Zero values match everything.
type DecisionFilter struct {
	Tier     string
	Provider string
	Since    time.Time
	Limit    int
}

// DefaultListLimit caps listings that do not set a limit.
const DefaultListLimit = 100

// DecisionRepository stores one record per routed query.
type DecisionRepository interface {
	// Save stores a decision
	Save(ctx context.Context, d *domain.Decision) error

	// Get retrieves a decision by id
	Get(ctx context.Context, id string) (*domain.Decision, error)

	// List returns matching decisions, newest first
	List(ctx context.Context, filter DecisionFilter) ([]*domain.Decision, error)

	// Close releases resources
	Close() error
}
