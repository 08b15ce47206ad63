package domain

import "fmt"

// Query is an inbound natural-language request plus the caller-declared type tag.
type Query struct {
	Text         string `json:"text"`
	DeclaredType string `json:"query_type,omitempty"`
}

// QueryType is the coarse category a query is classified into.
type QueryType string

const (
	QueryTypeLegalCore QueryType = "legal_core"
	QueryTypeExplainer QueryType = "explainer"
	QueryTypeGeneral   QueryType = "general"
)

// QueryTypes lists every query type in declaration order.
var QueryTypes = []QueryType{QueryTypeLegalCore, QueryTypeExplainer, QueryTypeGeneral}

// Valid reports whether t is a known query type.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeLegalCore, QueryTypeExplainer, QueryTypeGeneral:
		return true
	}
	return false
}

// Complexity is an ordinal: Simple < Moderate < Complex.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
)

// Complexities lists every complexity level in ascending order.
var Complexities = []Complexity{ComplexitySimple, ComplexityModerate, ComplexityComplex}

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return fmt.Sprintf("complexity(%d)", int(c))
	}
}

// ParseComplexity parses the lower-case name produced by String.
func ParseComplexity(s string) (Complexity, error) {
	switch s {
	case "simple":
		return ComplexitySimple, nil
	case "moderate":
		return ComplexityModerate, nil
	case "complex":
		return ComplexityComplex, nil
	}
	return 0, fmt.Errorf("unknown complexity %q", s)
}

// MarshalText encodes the complexity by name.
func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a complexity name.
func (c *Complexity) UnmarshalText(b []byte) error {
	parsed, err := ParseComplexity(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Classification is derived from a Query. It is never mutated or persisted.
type Classification struct {
	Type            QueryType  `json:"type"`
	Complexity      Complexity `json:"complexity"`
	RecommendedTier string     `json:"recommended_tier"`
	EstimatedTokens int        `json:"estimated_tokens"`
	Rationale       string     `json:"rationale"`
}
