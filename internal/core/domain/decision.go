package domain

import "time"

// Decision is the persisted record of one routed query.
type Decision struct {
	ID              string     `json:"id"`
	Tier            string     `json:"tier"`
	QueryType       QueryType  `json:"query_type"`
	Complexity      Complexity `json:"complexity"`
	Success         bool       `json:"success"`
	Provider        string     `json:"provider"`
	ModelID         string     `json:"model_id"`
	Attempts        int        `json:"attempts"`
	Errors          []string   `json:"errors"`
	EstimatedTokens int        `json:"estimated_tokens"`
	EstimatedCost   float64    `json:"estimated_cost"`
	LatencyMs       int64      `json:"latency_ms"`
	CreatedAt       time.Time  `json:"created_at"`
}
