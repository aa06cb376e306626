package usecase

import (
	"fmt"
	"strings"
)

// routerSystemPrompt frames the LLM fallback routing call. The %s slot
// receives the formatted capability catalog.
const routerSystemPrompt = `You are a routing assistant for a multi-agent home automation system.
Your job is to analyze user queries and determine which specialist agent should handle them.

AVAILABLE AGENTS:
%s

ROUTING RULES:
1. Route to an agent ONLY if the query clearly matches their capabilities
2. Set AGENT: DIRECT for greetings, thanks, questions about the system itself,
   and general conversation that needs no specialist
3. Set AGENT: NONE when no agent fits and the query is not general conversation
4. If uncertain between agents, choose the most likely one with lower confidence
5. Consider conversation context when routing follow-ups

RESPONSE FORMAT:
You MUST respond in this exact format (one item per line):
AGENT: <agent_name, DIRECT, or NONE>
CONFIDENCE: <0.0 to 1.0>
REASONING: <brief one-line explanation>`

// directSystemPrompt is used when the orchestrator answers a query itself.
const directSystemPrompt = `You are Clarvis, a helpful AI home assistant.
You can help with email, ski conditions, notes, and other tasks through specialized agents.
For greetings, thanks, and general questions, respond naturally and helpfully.
Keep responses concise and friendly.`

// directFallbackText is returned when direct handling cannot reach the LLM.
const directFallbackText = "Hello! I'm Clarvis, your AI assistant. How can I help you today?"

// greetingUtterances are recognized as a whole utterance or as a prefix
// followed only by punctuation. The check is purely lexical.
var greetingUtterances = []string{
	"hello", "hi", "hey",
	"good morning", "good afternoon", "good evening",
	"thanks", "thank you", "thx",
	"great", "ok", "okay",
}

// isGreetingOrThanks reports whether the lowercased, trimmed query is a
// pure greeting or acknowledgment: one of the utterances above, alone or
// followed by punctuation/whitespace only.
func isGreetingOrThanks(q string) (string, bool) {
	for _, u := range greetingUtterances {
		if q == u {
			return u, true
		}
		if strings.HasPrefix(q, u) {
			rest := q[len(u):]
			if rest != "" && strings.Trim(rest, " \t!?.,;:") == "" {
				return u, true
			}
		}
	}
	return "", false
}

// formatCapabilityCatalog renders the registry's capability list for the
// router prompt: agent name, capability descriptions, and a couple of
// example queries per agent.
func formatCapabilityCatalog(entries []AgentCapabilityEntry) string {
	if len(entries) == 0 {
		return "No agents currently available."
	}

	var b strings.Builder
	var current string
	examples := 0
	for _, e := range entries {
		if e.AgentName != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Agent: %s\n", e.AgentName)
			current = e.AgentName
			examples = 0
		}
		fmt.Fprintf(&b, "  - %s: %s\n", e.Capability.Name, e.Capability.Description)
		if examples < 2 && len(e.Capability.Examples) > 0 {
			fmt.Fprintf(&b, "  Example queries: %s\n", strings.Join(firstN(e.Capability.Examples, 2), ", "))
			examples += len(e.Capability.Examples)
		}
	}
	return b.String()
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
