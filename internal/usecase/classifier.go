package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"clarvis/internal/domain"
)

// Scoring constants for the intent classifier.
const (
	keywordScorePerMatch = 0.2
	keywordScoreCap      = 0.6
	patternScorePerMatch = 0.3
	patternScoreCap      = 0.6
	ambiguityMargin      = 0.1
)

// AgentMatchers configures classification for one agent: whole-word
// keywords plus free-form regular expressions.
type AgentMatchers struct {
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

type compiledAgent struct {
	name       string
	keywordRes []*regexp.Regexp
	keywords   []string
	patternRes []*regexp.Regexp
	patterns   []string
}

// Classifier scores queries against per-agent keyword and pattern tables.
// Classification is a pure function of the query: no I/O, no clock, and
// deterministic for a fixed configuration.
type Classifier struct {
	agents []compiledAgent // insertion order is the tie-break order
}

// NewClassifier compiles the matcher table. A pattern that fails to
// compile is a configuration error and aborts construction.
func NewClassifier(table map[string]AgentMatchers, order []string) (*Classifier, error) {
	c := &Classifier{}
	for _, name := range order {
		m, ok := table[name]
		if !ok {
			continue
		}
		ca := compiledAgent{name: name}
		for _, kw := range m.Keywords {
			kw = strings.ToLower(kw)
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw) + `\b`)
			if err != nil {
				return nil, domain.WrapOp("classifier keyword "+kw, err)
			}
			ca.keywordRes = append(ca.keywordRes, re)
			ca.keywords = append(ca.keywords, kw)
		}
		for _, p := range m.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("classifier pattern %q for agent %q: %w", p, name, err)
			}
			ca.patternRes = append(ca.patternRes, re)
			ca.patterns = append(ca.patterns, p)
		}
		c.agents = append(c.agents, ca)
	}
	return c, nil
}

// Classify scores the query against every configured agent. The result is
// ranked descending by score with configuration order breaking ties; an
// empty query or a query with no matches yields an empty ranking.
func (c *Classifier) Classify(query string) domain.ClassificationResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return domain.ClassificationResult{}
	}

	var ranked []domain.ClassificationScore
	for _, ca := range c.agents {
		var matchedKw, matchedPat []string
		for i, re := range ca.keywordRes {
			if re.MatchString(q) {
				matchedKw = append(matchedKw, ca.keywords[i])
			}
		}
		for i, re := range ca.patternRes {
			if re.MatchString(q) {
				matchedPat = append(matchedPat, ca.patterns[i])
			}
		}

		kwScore := float64(len(matchedKw)) * keywordScorePerMatch
		if kwScore > keywordScoreCap {
			kwScore = keywordScoreCap
		}
		patScore := float64(len(matchedPat)) * patternScorePerMatch
		if patScore > patternScoreCap {
			patScore = patternScoreCap
		}
		score := kwScore + patScore
		if score > 1.0 {
			score = 1.0
		}
		if score == 0 {
			continue
		}
		ranked = append(ranked, domain.ClassificationScore{
			AgentName: ca.name,
			Score:     score,
			Keywords:  matchedKw,
			Patterns:  matchedPat,
		})
	}

	// Stable sort keeps configuration order for equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	result := domain.ClassificationResult{Ranked: ranked}
	if len(ranked) > 1 &&
		ranked[1].Score > 0 &&
		ranked[0].Score-ranked[1].Score < ambiguityMargin {
		result.Ambiguous = true
	}
	return result
}

// MatchersFromCapabilities builds a classifier table from registered agent
// capabilities, merging each agent's capability keywords. Extra patterns
// from configuration are appended per agent.
func MatchersFromCapabilities(entries []AgentCapabilityEntry, extraPatterns map[string][]string) (map[string]AgentMatchers, []string) {
	table := make(map[string]AgentMatchers)
	var order []string
	for _, e := range entries {
		m, ok := table[e.AgentName]
		if !ok {
			order = append(order, e.AgentName)
		}
		m.Keywords = append(m.Keywords, e.Capability.Keywords...)
		table[e.AgentName] = m
	}
	for name, pats := range extraPatterns {
		m, ok := table[name]
		if !ok {
			order = append(order, name)
		}
		m.Patterns = append(m.Patterns, pats...)
		table[name] = m
	}
	return table, order
}
