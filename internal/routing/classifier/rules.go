package classifier

import (
	"fmt"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// Rules holds every tunable of the classifier. The zero value is not usable;
// start from DefaultRules and Apply configured Overrides.
type Rules struct {
	// CorePatterns and ExplainerPatterns are regular expressions matched
	// against the lower-cased query.
	CorePatterns      []string `yaml:"core_patterns"`
	ExplainerPatterns []string `yaml:"explainer_patterns"`

	// HighComplexityTerms raise the score, LowComplexityTerms lower it.
	// Terms are matched as whole words.
	HighComplexityTerms []string `yaml:"high_complexity_terms"`
	LowComplexityTerms  []string `yaml:"low_complexity_terms"`

	// DeclaredTypes maps caller-declared tags ("drafting", "research") to a
	// query type. A mapped tag counts as a keyword hit of that type.
	DeclaredTypes map[string]domain.QueryType `yaml:"declared_types"`

	Baseline        int `yaml:"baseline"`
	TermWeight      int `yaml:"term_weight"`
	LengthWeight    int `yaml:"length_weight"`
	LongQueryWords  int `yaml:"long_query_words"`
	ShortQueryWords int `yaml:"short_query_words"`
	SimpleMax       int `yaml:"simple_max"`
	ModerateMax     int `yaml:"moderate_max"`

	TokensPerWord float64        `yaml:"tokens_per_word"`
	OutputTokens  map[string]int `yaml:"output_tokens"` // keyed by complexity name

	// TierTable maps query type -> complexity name -> tier.
	TierTable map[domain.QueryType]map[string]string `yaml:"tier_table"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		CorePatterns: []string{
			`\bdraft(s|ed|ing)?\b`,
			`\bcontracts?\b`,
			`\bagreements?\b`,
			`\bcompar(e|es|ed|ing|ison)\b`,
			`\bstrateg(y|ies|ic)\b`,
			`\blegal notice\b`,
			`\bpetition\b`,
			`\b(under|u/s)\s+sections?\s+\d+`,
			`\bsections?\s+\d+[a-z]*\s+(of|read with)\b`,
		},
		ExplainerPatterns: []string{
			`\bwhat\s+(is|are)\b`,
			`\bdefin(e|ition)\b`,
			`\bmeaning of\b`,
			`\bsummar(y|ise|ize)\b`,
			`\bbrief(ly)?\b`,
			`\bexplain\b`,
		},
		HighComplexityTerms: []string{
			"detailed", "comprehensive", "case law", "multiple", "analysis", "in-depth",
		},
		LowComplexityTerms: []string{
			"quick", "brief", "one", "short",
		},
		DeclaredTypes: map[string]domain.QueryType{
			"drafting": domain.QueryTypeLegalCore,
			"research": domain.QueryTypeLegalCore,
			"strategy": domain.QueryTypeLegalCore,
			"explain":  domain.QueryTypeExplainer,
			"summary":  domain.QueryTypeExplainer,
		},
		Baseline:        4,
		TermWeight:      2,
		LengthWeight:    2,
		LongQueryWords:  30,
		ShortQueryWords: 10,
		SimpleMax:       3,
		ModerateMax:     6,
		TokensPerWord:   1.3,
		OutputTokens: map[string]int{
			"simple":   300,
			"moderate": 700,
			"complex":  1500,
		},
		TierTable: map[domain.QueryType]map[string]string{
			domain.QueryTypeLegalCore: {"simple": "balanced", "moderate": "balanced", "complex": "premium"},
			domain.QueryTypeExplainer: {"simple": "free", "moderate": "budget", "complex": "balanced"},
			domain.QueryTypeGeneral:   {"simple": "free", "moderate": "budget", "complex": "balanced"},
		},
	}
}

// Overrides is the configuration form of Rules. Scalars are pointers so an
// explicit zero (for example `baseline: 0`) replaces the default. Lists and
// maps replace the default when non-empty, except TierTable, which is
// overlaid cell by cell.
type Overrides struct {
	CorePatterns        []string                               `yaml:"core_patterns"`
	ExplainerPatterns   []string                               `yaml:"explainer_patterns"`
	HighComplexityTerms []string                               `yaml:"high_complexity_terms"`
	LowComplexityTerms  []string                               `yaml:"low_complexity_terms"`
	DeclaredTypes       map[string]domain.QueryType            `yaml:"declared_types"`
	Baseline            *int                                   `yaml:"baseline"`
	TermWeight          *int                                   `yaml:"term_weight"`
	LengthWeight        *int                                   `yaml:"length_weight"`
	LongQueryWords      *int                                   `yaml:"long_query_words"`
	ShortQueryWords     *int                                   `yaml:"short_query_words"`
	SimpleMax           *int                                   `yaml:"simple_max"`
	ModerateMax         *int                                   `yaml:"moderate_max"`
	TokensPerWord       *float64                               `yaml:"tokens_per_word"`
	OutputTokens        map[string]int                         `yaml:"output_tokens"`
	TierTable           map[domain.QueryType]map[string]string `yaml:"tier_table"`
}

// Apply returns r with every field set in o replaced.
func (r Rules) Apply(o Overrides) Rules {
	if len(o.CorePatterns) > 0 {
		r.CorePatterns = o.CorePatterns
	}
	if len(o.ExplainerPatterns) > 0 {
		r.ExplainerPatterns = o.ExplainerPatterns
	}
	if len(o.HighComplexityTerms) > 0 {
		r.HighComplexityTerms = o.HighComplexityTerms
	}
	if len(o.LowComplexityTerms) > 0 {
		r.LowComplexityTerms = o.LowComplexityTerms
	}
	if len(o.DeclaredTypes) > 0 {
		r.DeclaredTypes = o.DeclaredTypes
	}
	setInt(&r.Baseline, o.Baseline)
	setInt(&r.TermWeight, o.TermWeight)
	setInt(&r.LengthWeight, o.LengthWeight)
	setInt(&r.LongQueryWords, o.LongQueryWords)
	setInt(&r.ShortQueryWords, o.ShortQueryWords)
	setInt(&r.SimpleMax, o.SimpleMax)
	setInt(&r.ModerateMax, o.ModerateMax)
	if o.TokensPerWord != nil {
		r.TokensPerWord = *o.TokensPerWord
	}
	if len(o.OutputTokens) > 0 {
		r.OutputTokens = o.OutputTokens
	}
	if len(o.TierTable) > 0 {
		// cells are overlaid individually so one row can be changed alone
		table := make(map[domain.QueryType]map[string]string, len(r.TierTable))
		for t, row := range r.TierTable {
			table[t] = make(map[string]string, len(row))
			for c, tier := range row {
				table[t][c] = tier
			}
		}
		for t, row := range o.TierTable {
			if table[t] == nil {
				table[t] = make(map[string]string, len(row))
			}
			for c, tier := range row {
				table[t][c] = tier
			}
		}
		r.TierTable = table
	}
	return r
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks that the rule set is usable and that the tier table is total.
func (r Rules) Validate() error {
	if r.SimpleMax >= r.ModerateMax {
		return fmt.Errorf("simple_max (%d) must be below moderate_max (%d)", r.SimpleMax, r.ModerateMax)
	}
	if r.ShortQueryWords > r.LongQueryWords {
		return fmt.Errorf(
			"short_query_words (%d) must not exceed long_query_words (%d)",
			r.ShortQueryWords,
			r.LongQueryWords,
		)
	}
	if r.TokensPerWord <= 0 {
		return fmt.Errorf("tokens_per_word must be positive")
	}
	for tag, t := range r.DeclaredTypes {
		if !t.Valid() {
			return fmt.Errorf("declared type %q maps to unknown query type %q", tag, t)
		}
	}
	for _, c := range domain.Complexities {
		n, ok := r.OutputTokens[c.String()]
		if !ok || n < 0 {
			return fmt.Errorf("output_tokens missing or negative for %s", c)
		}
	}
	for _, t := range domain.QueryTypes {
		row, ok := r.TierTable[t]
		if !ok {
			return fmt.Errorf("tier_table has no row for %s", t)
		}
		for _, c := range domain.Complexities {
			if row[c.String()] == "" {
				return fmt.Errorf("tier_table has no tier for %s/%s", t, c)
			}
		}
	}
	return nil
}

// Tiers returns every tier named in the tier table.
func (r Rules) Tiers() []string {
	seen := make(map[string]bool)
	var tiers []string
	for _, t := range domain.QueryTypes {
		for _, c := range domain.Complexities {
			tier := r.TierTable[t][c.String()]
			if tier != "" && !seen[tier] {
				seen[tier] = true
				tiers = append(tiers, tier)
			}
		}
	}
	return tiers
}
