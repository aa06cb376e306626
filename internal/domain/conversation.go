package domain

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Turn is one (query, response, agent) triple recorded in a conversation.
// Turns are immutable once appended.
type Turn struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	AgentUsed string    `json:"agent_used"`
	Timestamp time.Time `json:"timestamp"`
}

// defaultFollowUpPhrases and defaultFollowUpPronouns drive the follow-up heuristic.
// They are data, not code: operators can tune them via SetFollowUpHints.
var (
	defaultFollowUpPhrases = []string{
		"what about", "tell me more", "also", "and", "how about", "what else",
	}
	defaultFollowUpPronouns = []string{
		"it", "they", "them", "that", "this", "those", "these",
	}
)

// Conversation tracks multi-turn state for one session. All methods are
// safe for concurrent use; readers observe either pre- or post-append
// state, never a partial turn.
type Conversation struct {
	mu           sync.RWMutex
	sessionID    string
	turns        []Turn
	lastAgent    string
	lastActivity time.Time
	maxTurns     int

	phraseRe *regexp.Regexp
	pronouns map[string]struct{}

	now func() time.Time // for testing
}

// NewConversation creates an empty conversation. maxTurns bounds the stored
// history; when the cap is exceeded the oldest turns are dropped.
func NewConversation(sessionID string, maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	c := &Conversation{
		sessionID:    sessionID,
		maxTurns:     maxTurns,
		lastActivity: time.Now(),
		now:          time.Now,
	}
	c.setHints(defaultFollowUpPhrases, defaultFollowUpPronouns)
	return c
}

func (c *Conversation) setHints(phrases, pronouns []string) {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	c.phraseRe = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
	c.pronouns = make(map[string]struct{}, len(pronouns))
	for _, p := range pronouns {
		c.pronouns[p] = struct{}{}
	}
}

// SetFollowUpHints replaces the phrase and pronoun lists used by
// ShouldContinueWithAgent. Intended for operator tuning at startup.
func (c *Conversation) SetFollowUpHints(phrases, pronouns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setHints(phrases, pronouns)
}

// SessionID returns the opaque session identifier.
func (c *Conversation) SessionID() string { return c.sessionID }

// AddTurn appends a turn, updates the last-agent pointer, and refreshes
// the activity timestamp. History beyond the configured cap is dropped
// oldest-first.
func (c *Conversation) AddTurn(query, response, agentUsed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{
		Query:     query,
		Response:  response,
		AgentUsed: agentUsed,
		Timestamp: c.now(),
	})
	if len(c.turns) > c.maxTurns {
		c.turns = c.turns[len(c.turns)-c.maxTurns:]
	}
	c.lastAgent = agentUsed
	c.lastActivity = c.now()
}

// Turns returns a copy of the turn history, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]Turn, len(c.turns))
	copy(cp, c.turns)
	return cp
}

// TurnCount returns the number of stored turns.
func (c *Conversation) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// LastAgent returns the agent used on the most recent turn, or "".
func (c *Conversation) LastAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAgent
}

// LastActivity returns the timestamp of the most recent turn or touch.
func (c *Conversation) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Touch refreshes the activity timestamp without recording a turn.
func (c *Conversation) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()
}

// RecentContext formats the last n turns as a readable summary, oldest
// first. Used for LLM prompt context and for clients inspecting state.
func (c *Conversation) RecentContext(n int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns := c.turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "User: %s\nAgent (%s): %s", t.Query, t.AgentUsed, t.Response)
	}
	return b.String()
}

// ShouldContinueWithAgent reports whether query looks like a follow-up to
// the previous turn, and if so which agent should continue. The heuristic
// is purely lexical: follow-up phrases as whole words, or a pronoun inside
// a short (≤5 token) query. Depends only on the lowercased query and the
// last agent used.
func (c *Conversation) ShouldContinueWithAgent(query string) (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastAgent == "" || len(c.turns) == 0 {
		return false, ""
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false, ""
	}

	if c.phraseRe.MatchString(q) {
		return true, c.lastAgent
	}

	tokens := strings.Fields(q)
	if len(tokens) <= 5 {
		for _, tok := range tokens {
			tok = strings.Trim(tok, `?!.,;:'"`)
			if _, ok := c.pronouns[tok]; ok {
				return true, c.lastAgent
			}
		}
	}
	return false, ""
}
