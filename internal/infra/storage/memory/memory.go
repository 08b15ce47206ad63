package memory

import (
	"context"
	"sync"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/infra/storage"
)

const defaultCapacity = 10000

// DecisionRepo keeps the most recent decisions in memory. When full, the
// oldest record is dropped.
type DecisionRepo struct {
	mu        sync.RWMutex
	decisions []*domain.Decision
	capacity  int
}

// NewDecisionRepo creates an in-memory repository. capacity <= 0 uses 10000.
func NewDecisionRepo(capacity int) *DecisionRepo {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &DecisionRepo{capacity: capacity}
}

func (r *DecisionRepo) Save(ctx context.Context, d *domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decisions = append(r.decisions, clone(d))
	if len(r.decisions) > r.capacity {
		r.decisions = r.decisions[len(r.decisions)-r.capacity:]
	}
	return nil
}

func (r *DecisionRepo) Get(ctx context.Context, id string) (*domain.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.decisions {
		if d.ID == id {
			return clone(d), nil
		}
	}
	return nil, storage.ErrDecisionNotFound
}

func (r *DecisionRepo) List(ctx context.Context, filter storage.DecisionFilter) ([]*domain.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	var out []*domain.Decision
	for i := len(r.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		d := r.decisions[i]
		if filter.Tier != "" && d.Tier != filter.Tier {
			continue
		}
		if filter.Provider != "" && d.Provider != filter.Provider {
			continue
		}
		if !filter.Since.IsZero() && d.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, clone(d))
	}
	return out, nil
}

func (r *DecisionRepo) Close() error {
	return nil
}

// clone copies d so callers never share the stored Errors slice.
func clone(d *domain.Decision) *domain.Decision {
	cp := *d
	cp.Errors = append([]string(nil), d.Errors...)
	return &cp
}
