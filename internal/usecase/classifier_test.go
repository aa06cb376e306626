package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	table := map[string]AgentMatchers{
		"gmail": {
			Keywords: []string{"email", "emails", "inbox", "unread", "mail", "gmail"},
			Patterns: []string{
				`\b(check|read|search|find|show|list|get)\b.*\b(email|emails|mail|inbox)\b`,
				`\b(email|mail)\b.*\b(from|to|about|subject)\b`,
			},
		},
		"ski": {
			Keywords: []string{"snow", "ski", "lift", "lifts", "powder", "conditions"},
			Patterns: []string{
				`\b(how much|what)\b.*\b(snow|powder|base)\b`,
			},
		},
		"notes": {
			Keywords: []string{"note", "notes", "list", "grocery", "todo"},
		},
	}
	c, err := NewClassifier(table, []string{"gmail", "ski", "notes"})
	require.NoError(t, err)
	return c
}

func TestClassifyKeywordScoring(t *testing.T) {
	c := testClassifier(t)

	res := c.Classify("check my email")
	best := res.Best()
	require.NotNil(t, best)
	assert.Equal(t, "gmail", best.AgentName)
	// One keyword (0.2) + one pattern (0.3).
	assert.InDelta(t, 0.5, best.Score, 1e-9)
}

func TestClassifyKeywordCap(t *testing.T) {
	c := testClassifier(t)

	// Four keywords would be 0.8 uncapped; keyword contribution caps at 0.6.
	res := c.Classify("unread gmail mail in my inbox")
	best := res.Best()
	require.NotNil(t, best)
	assert.Equal(t, "gmail", best.AgentName)
	assert.LessOrEqual(t, best.Score, 1.0)
	assert.InDelta(t, 0.6, best.Score, 1e-9)
}

func TestClassifyScoresDescendingAndBounded(t *testing.T) {
	c := testClassifier(t)
	res := c.Classify("check email about the snow conditions on the list")
	prev := 1.1
	for _, s := range res.Ranked {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
		assert.LessOrEqual(t, s.Score, prev)
		prev = s.Score
	}
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := testClassifier(t)
	res := c.Classify("   ")
	assert.Empty(t, res.Ranked)
	assert.Nil(t, res.Best())
}

func TestClassifyNoMatches(t *testing.T) {
	c := testClassifier(t)
	res := c.Classify("turn on the living room lights")
	assert.Empty(t, res.Ranked)
}

func TestClassifyAmbiguity(t *testing.T) {
	c := testClassifier(t)

	// One keyword each: gmail 0.2, ski 0.2, within the margin.
	res := c.Classify("email the snow")
	assert.True(t, res.Ambiguous)

	// Clear winner: no ambiguity flag.
	res = c.Classify("check my unread emails in the inbox")
	assert.False(t, res.Ambiguous)
}

func TestClassifyTieBreakUsesConfigOrder(t *testing.T) {
	c := testClassifier(t)
	res := c.Classify("email the snow")
	require.Len(t, res.Ranked, 2)
	assert.Equal(t, "gmail", res.Ranked[0].AgentName)
	assert.Equal(t, "ski", res.Ranked[1].AgentName)
}

func TestClassifyDeterministic(t *testing.T) {
	c := testClassifier(t)
	a := c.Classify("check my email about snow")
	b := c.Classify("check my email about snow")
	assert.Equal(t, a, b)
}

func TestClassifyWholeWordKeywords(t *testing.T) {
	c := testClassifier(t)
	// "emailing" must not match the "email" keyword... but "email" is a
	// prefix at a word boundary; \bemail\b does not match inside "emailing".
	res := c.Classify("I was emailing someone")
	assert.Nil(t, res.Best())
}

func TestNewClassifierBadPattern(t *testing.T) {
	_, err := NewClassifier(map[string]AgentMatchers{
		"bad": {Patterns: []string{`(`}},
	}, []string{"bad"})
	require.Error(t, err)
}

func TestMatchersFromCapabilities(t *testing.T) {
	entries := []AgentCapabilityEntry{
		{AgentName: "gmail", Capability: capWithKeywords("read_email", "email", "inbox")},
		{AgentName: "gmail", Capability: capWithKeywords("search_email", "unread")},
		{AgentName: "ski", Capability: capWithKeywords("snow_conditions", "snow")},
	}
	table, order := MatchersFromCapabilities(entries, map[string][]string{
		"gmail": {`\bemail\b.*\bfrom\b`},
	})
	assert.Equal(t, []string{"gmail", "ski"}, order)
	assert.ElementsMatch(t, []string{"email", "inbox", "unread"}, table["gmail"].Keywords)
	assert.Len(t, table["gmail"].Patterns, 1)
	assert.Empty(t, table["ski"].Patterns)
}
