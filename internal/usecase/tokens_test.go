package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimToTokenBudgetKeepsSmallText(t *testing.T) {
	text := "User: hi\nAgent (orchestrator): hello"
	assert.Equal(t, text, trimToTokenBudget(text, 10_000))
}

func TestTrimToTokenBudgetDropsOldestLines(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("conversation turn content ", 5))
	}
	text := strings.Join(lines, "\n")

	trimmed := trimToTokenBudget(text, 50)
	assert.Less(t, len(trimmed), len(text))
	// The tail survives: trimming drops from the front.
	assert.True(t, strings.HasSuffix(text, trimmed))
}

func TestCountTokensPositive(t *testing.T) {
	assert.Greater(t, countTokens("hello world, this is a reasonably sized sentence"), 0)
}
