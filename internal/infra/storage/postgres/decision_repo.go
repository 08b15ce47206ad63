package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/llmrouter/internal/core/domain"
	"github.com/vietddude/llmrouter/internal/infra/storage"
)

// DecisionRepo implements storage.DecisionRepository using PostgreSQL.
type DecisionRepo struct {
	db *DB
}

// NewDecisionRepo creates a new PostgreSQL decision repository.
func NewDecisionRepo(db *DB) *DecisionRepo {
	return &DecisionRepo{db: db}
}

// decisionRow is the table layout of a decision. Complexity is stored by
// name and the error list as JSON.
type decisionRow struct {
	ID              string    `db:"id"`
	Tier            string    `db:"tier"`
	QueryType       string    `db:"query_type"`
	Complexity      string    `db:"complexity"`
	Success         bool      `db:"success"`
	Provider        string    `db:"provider"`
	ModelID         string    `db:"model_id"`
	Attempts        int       `db:"attempts"`
	Errors          []byte    `db:"errors"`
	EstimatedTokens int       `db:"estimated_tokens"`
	EstimatedCost   float64   `db:"estimated_cost"`
	LatencyMs       int64     `db:"latency_ms"`
	CreatedAt       time.Time `db:"created_at"`
}

const decisionColumns = `id, tier, query_type, complexity, success, provider, model_id,
	attempts, errors, estimated_tokens, estimated_cost, latency_ms, created_at`

func toRow(d *domain.Decision) (*decisionRow, error) {
	errs := d.Errors
	if errs == nil {
		errs = []string{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}
	return &decisionRow{
		ID:              d.ID,
		Tier:            d.Tier,
		QueryType:       string(d.QueryType),
		Complexity:      d.Complexity.String(),
		Success:         d.Success,
		Provider:        d.Provider,
		ModelID:         d.ModelID,
		Attempts:        d.Attempts,
		Errors:          data,
		EstimatedTokens: d.EstimatedTokens,
		EstimatedCost:   d.EstimatedCost,
		LatencyMs:       d.LatencyMs,
		CreatedAt:       d.CreatedAt,
	}, nil
}

func (r *decisionRow) toDomain() (*domain.Decision, error) {
	complexity, err := domain.ParseComplexity(r.Complexity)
	if err != nil {
		return nil, err
	}
	d := &domain.Decision{
		ID:              r.ID,
		Tier:            r.Tier,
		QueryType:       domain.QueryType(r.QueryType),
		Complexity:      complexity,
		Success:         r.Success,
		Provider:        r.Provider,
		ModelID:         r.ModelID,
		Attempts:        r.Attempts,
		EstimatedTokens: r.EstimatedTokens,
		EstimatedCost:   r.EstimatedCost,
		LatencyMs:       r.LatencyMs,
		CreatedAt:       r.CreatedAt,
	}
	if len(r.Errors) > 0 {
		if err := json.Unmarshal(r.Errors, &d.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return d, nil
}

// Save inserts a decision.
func (r *DecisionRepo) Save(ctx context.Context, d *domain.Decision) error {
	row, err := toRow(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO routing_decisions (` + decisionColumns + `)
		VALUES (:id, :tier, :query_type, :complexity, :success, :provider, :model_id,
			:attempts, :errors, :estimated_tokens, :estimated_cost, :latency_ms, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// Get retrieves a decision by id.
func (r *DecisionRepo) Get(ctx context.Context, id string) (*domain.Decision, error) {
	var row decisionRow
	query := `SELECT ` + decisionColumns + ` FROM routing_decisions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDecisionNotFound
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return row.toDomain()
}

// List returns matching decisions, newest first.
func (r *DecisionRepo) List(ctx context.Context, filter storage.DecisionFilter) ([]*domain.Decision, error) {
	query, args := buildListQuery(filter)

	var rows []decisionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	out := make([]*domain.Decision, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Close closes the database connection.
func (r *DecisionRepo) Close() error {
	return r.db.Close()
}

func buildListQuery(filter storage.DecisionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Tier != "" {
		args = append(args, filter.Tier)
		where = append(where, fmt.Sprintf("tier = $%d", len(args)))
	}
	if filter.Provider != "" {
		args = append(args, filter.Provider)
		where = append(where, fmt.Sprintf("provider = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString("SELECT " + decisionColumns + " FROM routing_decisions")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	return b.String(), args
}
