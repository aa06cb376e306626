package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarvis/internal/domain"
)

func newTestRouter(t *testing.T, provider domain.LLMProvider, cfg RouterConfig) (*Router, *Registry) {
	t.Helper()
	registry := NewRegistry(discardLogger())
	require.NoError(t, registry.Register(newFakeAgent("gmail", "email", "emails", "inbox", "unread")))
	require.NoError(t, registry.Register(newFakeAgent("ski", "snow", "lift", "lifts", "powder")))

	table, order := MatchersFromCapabilities(registry.AllCapabilities(), map[string][]string{
		"gmail": {`\b(check|read|show)\b.*\b(email|emails|inbox)\b`},
	})
	classifier, err := NewClassifier(table, order)
	require.NoError(t, err)

	return NewRouter(registry, classifier, provider, cfg, discardLogger()), registry
}

func TestRouteGreeting(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{FollowUpDetection: true})

	for _, q := range []string{"hello", "Hi!", "thanks", "Thank you.", "good morning", "ok"} {
		d := r.Route(context.Background(), q, nil)
		assert.True(t, d.HandleDirectly, "query %q", q)
		assert.Equal(t, 1.0, d.Confidence)
		assert.Contains(t, d.Reasoning, "greeting")
		assert.Empty(t, d.AgentName)
	}
}

func TestRouteGreetingMustBeWholeUtterance(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{})
	d := r.Route(context.Background(), "hello, check my unread emails in the inbox", nil)
	assert.False(t, d.HandleDirectly)
}

func TestRouteKeywordMatch(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{Threshold: 0.5})
	d := r.Route(context.Background(), "check my unread emails in the inbox", nil)
	assert.Equal(t, "gmail", d.AgentName)
	assert.False(t, d.HandleDirectly)
	assert.GreaterOrEqual(t, d.Confidence, 0.5)
	assert.Contains(t, d.Reasoning, "matched keywords")
}

func TestRouteFollowUpWins(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{Threshold: 0.7, FollowUpDetection: true})

	conv := domain.NewConversation("s1", 10)
	conv.AddTurn("snow report", "12 inches", "ski")

	// Even though the classifier would score this near zero, the follow-up
	// rule routes back to the last agent.
	d := r.Route(context.Background(), "what about tomorrow?", conv)
	assert.Equal(t, "ski", d.AgentName)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	assert.Contains(t, d.Reasoning, "follow-up")
}

func TestRouteFollowUpDisabled(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{Threshold: 0.7, FollowUpDetection: false})
	conv := domain.NewConversation("s1", 10)
	conv.AddTurn("snow report", "12 inches", "ski")

	d := r.Route(context.Background(), "what about tomorrow?", conv)
	assert.NotEqual(t, "ski", d.AgentName)
}

func TestRouteFollowUpIgnoredWhenAgentGone(t *testing.T) {
	r, registry := newTestRouter(t, nil, RouterConfig{Threshold: 0.7, FollowUpDetection: true})
	conv := domain.NewConversation("s1", 10)
	conv.AddTurn("snow report", "12 inches", "ski")
	require.NoError(t, registry.Unregister("ski"))

	d := r.Route(context.Background(), "what about tomorrow?", conv)
	assert.NotEqual(t, "ski", d.AgentName)
}

func TestRouteNoMatchNoLLMNoDefault(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{Threshold: 0.7})
	d := r.Route(context.Background(), "turn on the lights", nil)
	assert.Empty(t, d.AgentName)
	assert.False(t, d.HandleDirectly)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestRouteDefaultAgentWhenLLMUnavailable(t *testing.T) {
	r, _ := newTestRouter(t, nil, RouterConfig{Threshold: 0.7, DefaultAgent: "gmail"})
	d := r.Route(context.Background(), "turn on the lights", nil)
	assert.Equal(t, "gmail", d.AgentName)
}

func TestRouteLLMFallbackPicksAgent(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: ski\nCONFIDENCE: 0.8\nREASONING: query is about mountain conditions"}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true, RouterModel: "haiku"})

	d := r.Route(context.Background(), "is the mountain any good right now", nil)
	assert.Equal(t, "ski", d.AgentName)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.Equal(t, "query is about mountain conditions", d.Reasoning)
	assert.Equal(t, "haiku", provider.lastRequest.Model)
}

func TestRouteLLMFallbackDirect(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: DIRECT\nCONFIDENCE: 0.9\nREASONING: small talk"}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true})

	d := r.Route(context.Background(), "how are you doing", nil)
	assert.True(t, d.HandleDirectly)
	assert.Empty(t, d.AgentName)
}

func TestRouteLLMFallbackNone(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: NONE\nCONFIDENCE: 0.2\nREASONING: nothing fits"}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true})

	d := r.Route(context.Background(), "fly me to the moon", nil)
	assert.Empty(t, d.AgentName)
	assert.False(t, d.HandleDirectly)
}

func TestRouteLLMFallbackUnknownAgent(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: calendar\nCONFIDENCE: 0.9\nREASONING: scheduling"}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true})

	d := r.Route(context.Background(), "book a meeting", nil)
	assert.Empty(t, d.AgentName)
	assert.False(t, d.HandleDirectly)
	assert.Contains(t, d.Reasoning, "unknown agent")
}

func TestRouteLLMErrorFallsBackToDefault(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("api down")}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true, DefaultAgent: "gmail"})

	d := r.Route(context.Background(), "something unroutable", nil)
	assert.Equal(t, "gmail", d.AgentName)
}

func TestRouteLLMPromptIncludesContextAndCatalog(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: NONE\nCONFIDENCE: 0\nREASONING: n/a"}
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true})

	conv := domain.NewConversation("s1", 10)
	conv.AddTurn("check email", "3 unread", "gmail")

	r.Route(context.Background(), "anything new from alice", conv)
	require.Equal(t, 1, provider.calls)
	assert.Contains(t, provider.lastRequest.System, "Agent: gmail")
	assert.Contains(t, provider.lastRequest.System, "Agent: ski")
	require.Len(t, provider.lastRequest.Messages, 1)
	assert.Contains(t, provider.lastRequest.Messages[0].Content, "Recent conversation:")
	assert.Contains(t, provider.lastRequest.Messages[0].Content, "New query: anything new from alice")
}

func TestRouteAmbiguousGoesToLLM(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: gmail\nCONFIDENCE: 0.6\nREASONING: mail wins"}
	// Very low threshold: a clear single match would short-circuit, but an
	// ambiguous one must still consult the LLM.
	r, _ := newTestRouter(t, provider, RouterConfig{Threshold: 0.1, LLMRoutingEnabled: true})

	d := r.Route(context.Background(), "email the snow", nil)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "gmail", d.AgentName)
}

func TestDecisionInvariantExactlyOneOutcome(t *testing.T) {
	provider := &fakeProvider{reply: "AGENT: ski\nCONFIDENCE: 0.8\nREASONING: ok"}
	r, registry := newTestRouter(t, provider, RouterConfig{Threshold: 0.7, LLMRoutingEnabled: true})

	queries := []string{
		"hello",
		"check my unread emails in the inbox",
		"what is happening",
		"",
	}
	for _, q := range queries {
		d := r.Route(context.Background(), q, nil)
		outcomes := 0
		if d.HandleDirectly {
			outcomes++
		}
		if d.AgentName != "" {
			assert.True(t, registry.Has(d.AgentName))
			outcomes++
		}
		if !d.HandleDirectly && d.AgentName == "" {
			outcomes++
		}
		assert.Equal(t, 1, outcomes, "query %q", q)
	}
}
