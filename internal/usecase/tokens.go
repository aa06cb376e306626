package usecase

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens estimates the token length of text. It uses the cl100k_base
// encoding when available and falls back to a bytes/4 estimate when the
// encoding cannot be loaded (for example, with no cached BPE data).
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// trimToTokenBudget truncates text so it fits within budget tokens,
// dropping whole lines from the front so the most recent turns survive.
// Conversation summaries grow oldest-first, so front-trimming keeps the
// tail that matters for routing.
func trimToTokenBudget(text string, budget int) string {
	if budget <= 0 || countTokens(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[1:]
		candidate := strings.Join(lines, "\n")
		if countTokens(candidate) <= budget {
			return candidate
		}
	}
	// A single oversized line: hard-cut by bytes as a last resort.
	last := lines[0]
	for len(last) > 0 && countTokens(last) > budget {
		cut := len(last) / 2
		last = last[:cut]
	}
	return last
}
