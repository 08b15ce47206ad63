package domain

// ExecutionOutcome is the result of one failover run. It is returned, never stored.
type ExecutionOutcome struct {
	Success     bool               `json:"success"`
	BackendUsed *BackendDescriptor `json:"backend_used,omitempty"`
	Attempts    int                `json:"attempts"`
	Errors      []string           `json:"errors"`

	// Result is whatever the execute callback returned on success.
	Result any `json:"-"`
}
