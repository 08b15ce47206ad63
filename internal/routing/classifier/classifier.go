// Package classifier maps query text to a type, a complexity and a recommended tier.
//
// Classification is pure and deterministic: the same (query, declared type)
// always yields the same Classification. It never fails; text matching no
// pattern set is classified as general.
package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

// Classifier is safe for concurrent use. It holds only compiled, read-only rules.
type Classifier struct {
	rules     Rules
	core      []*regexp.Regexp
	explainer []*regexp.Regexp
	high      []term
	low       []term
}

type term struct {
	text string
	re   *regexp.Regexp
}

// New compiles the rule set. Errors here are configuration errors and should stop startup.
func New(rules Rules) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier rules: %w", err)
	}

	c := &Classifier{rules: rules}

	var err error
	if c.core, err = compilePatterns(rules.CorePatterns); err != nil {
		return nil, fmt.Errorf("core patterns: %w", err)
	}
	if c.explainer, err = compilePatterns(rules.ExplainerPatterns); err != nil {
		return nil, fmt.Errorf("explainer patterns: %w", err)
	}
	c.high = compileTerms(rules.HighComplexityTerms)
	c.low = compileTerms(rules.LowComplexityTerms)

	return c, nil
}

// Rules returns the rule set the classifier was built from.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify analyses the query and recommends a tier.
func (c *Classifier) Classify(query, declaredType string) domain.Classification {
	q := strings.ToLower(strings.TrimSpace(query))
	wc := len(strings.Fields(q))

	qType, typeWhy := c.classifyType(q, strings.ToLower(strings.TrimSpace(declaredType)))
	complexity, score, scoreWhy := c.classifyComplexity(q, wc)
	tier := c.rules.TierTable[qType][complexity.String()]
	tokens := c.estimateTokens(wc, complexity)

	return domain.Classification{
		Type:            qType,
		Complexity:      complexity,
		RecommendedTier: tier,
		EstimatedTokens: tokens,
		Rationale: fmt.Sprintf(
			"type=%s (%s); complexity=%s (score=%d: %s); tier=%s; tokens~%d",
			qType, typeWhy, complexity, score, scoreWhy, tier, tokens,
		),
	}
}

// classifyType applies the keyword sets. Core wins over explainer so a
// complex-sounding query is never under-routed.
func (c *Classifier) classifyType(q, declared string) (domain.QueryType, string) {
	coreHits := matchPatterns(c.core, q)
	explainerHits := matchPatterns(c.explainer, q)

	if mapped, ok := c.rules.DeclaredTypes[declared]; ok && declared != "" {
		switch mapped {
		case domain.QueryTypeLegalCore:
			coreHits = append(coreHits, "declared:"+declared)
		case domain.QueryTypeExplainer:
			explainerHits = append(explainerHits, "declared:"+declared)
		}
	}

	switch {
	case len(coreHits) > 0:
		return domain.QueryTypeLegalCore, "core: " + strings.Join(coreHits, ", ")
	case len(explainerHits) > 0:
		return domain.QueryTypeExplainer, "explainer: " + strings.Join(explainerHits, ", ")
	default:
		return domain.QueryTypeGeneral, "no keyword match"
	}
}

func (c *Classifier) classifyComplexity(q string, wc int) (domain.Complexity, int, string) {
	r := c.rules
	score := r.Baseline
	parts := []string{fmt.Sprintf("words=%d", wc)}

	switch {
	case wc > r.LongQueryWords:
		score += r.LengthWeight
		parts = append(parts, "+long")
	case wc < r.ShortQueryWords:
		score -= r.LengthWeight
		parts = append(parts, "-short")
	}

	for _, t := range c.high {
		if t.re.MatchString(q) {
			score += r.TermWeight
			parts = append(parts, "+"+t.text)
		}
	}
	for _, t := range c.low {
		if t.re.MatchString(q) {
			score -= r.TermWeight
			parts = append(parts, "-"+t.text)
		}
	}

	var complexity domain.Complexity
	switch {
	case score <= r.SimpleMax:
		complexity = domain.ComplexitySimple
	case score <= r.ModerateMax:
		complexity = domain.ComplexityModerate
	default:
		complexity = domain.ComplexityComplex
	}

	return complexity, score, strings.Join(parts, ", ")
}

func (c *Classifier) estimateTokens(wc int, complexity domain.Complexity) int {
	input := int(math.Round(float64(wc) * c.rules.TokensPerWord))
	return input + c.rules.OutputTokens[complexity.String()]
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileTerms(terms []string) []term {
	out := make([]term, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, term{text: t, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`)})
	}
	return out
}

func matchPatterns(patterns []*regexp.Regexp, q string) []string {
	var hits []string
	for _, re := range patterns {
		if m := re.FindString(q); m != "" {
			hits = append(hits, m)
		}
	}
	return hits
}
