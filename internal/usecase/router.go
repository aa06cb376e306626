package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"clarvis/internal/domain"
	"clarvis/internal/infra/tracer"
)

// RouterConfig holds routing behavior knobs.
type RouterConfig struct {
	Threshold         float64 // minimum classifier score for code routing
	LLMRoutingEnabled bool
	FollowUpDetection bool
	DefaultAgent      string // fallback target when LLM routing is off or fails; "" = none
	RouterModel       string // model for the LLM fallback call
	ContextTokens     int    // token budget for conversation context in the prompt
	LogDecisions      bool
}

// Router combines follow-up detection, lexical direct handling, the
// keyword classifier, and an optional LLM fallback into one routing
// decision. The first rule that yields a decision wins.
type Router struct {
	registry   *Registry
	classifier *Classifier
	provider   domain.LLMProvider // nil disables the LLM fallback
	cfg        RouterConfig
	logger     *slog.Logger
}

// NewRouter creates a router. provider may be nil; the LLM fallback is
// then skipped regardless of configuration.
func NewRouter(registry *Registry, classifier *Classifier, provider domain.LLMProvider, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 1024
	}
	return &Router{
		registry:   registry,
		classifier: classifier,
		provider:   provider,
		cfg:        cfg,
		logger:     logger,
	}
}

// Route produces the routing decision for query. conv may be nil.
func (r *Router) Route(ctx context.Context, query string, conv *domain.Conversation) domain.RoutingDecision {
	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()

	decision := r.route(ctx, query, conv)

	span.SetAttributes(
		tracer.StringAttr("routing.agent", decision.AgentName),
		tracer.StringAttr("routing.reasoning", decision.Reasoning),
	)
	if r.cfg.LogDecisions {
		r.logger.Info("routing decision",
			"agent", decision.AgentName,
			"confidence", decision.Confidence,
			"direct", decision.HandleDirectly,
			"reasoning", decision.Reasoning,
		)
	}
	return decision
}

func (r *Router) route(ctx context.Context, query string, conv *domain.Conversation) domain.RoutingDecision {
	// 1. Follow-up continuation: cheap, and preserves the user's context.
	if r.cfg.FollowUpDetection && conv != nil {
		if ok, agent := conv.ShouldContinueWithAgent(query); ok && r.registry.Has(agent) {
			return domain.RoutingDecision{
				AgentName:  agent,
				Confidence: 0.9,
				Reasoning:  fmt.Sprintf("follow-up continuation with %s", agent),
			}
		}
	}

	// 2. Greetings and thanks never need an agent.
	q := strings.ToLower(strings.TrimSpace(query))
	if matched, ok := isGreetingOrThanks(q); ok {
		return domain.RoutingDecision{
			Confidence:     1.0,
			Reasoning:      fmt.Sprintf("greeting/thanks detected: %q", matched),
			HandleDirectly: true,
		}
	}

	// 3. Keyword/pattern classification resolves the common case without
	// LLM latency.
	classification := r.classifier.Classify(query)
	if best := classification.Best(); best != nil &&
		best.Score >= r.cfg.Threshold && !classification.Ambiguous &&
		r.registry.Has(best.AgentName) {
		return domain.RoutingDecision{
			AgentName:  best.AgentName,
			Confidence: best.Score,
			Reasoning:  fmt.Sprintf("matched keywords/patterns: %s", strings.Join(best.Keywords, ", ")),
		}
	}

	// 4. LLM fallback for ambiguous or novel phrasings.
	if r.cfg.LLMRoutingEnabled && r.provider != nil {
		decision, err := r.llmRoute(ctx, query, classification, conv)
		if err == nil {
			return decision
		}
		r.logger.Warn("llm routing failed", "error", err)
	}

	return r.fallbackDecision(classification)
}

// fallbackDecision is used when the LLM path is disabled or failed: route
// to the configured default agent when one is set and registered,
// otherwise signal fallback with no agent.
func (r *Router) fallbackDecision(classification domain.ClassificationResult) domain.RoutingDecision {
	if r.cfg.DefaultAgent != "" && r.registry.Has(r.cfg.DefaultAgent) {
		confidence := 0.3
		if best := classification.Best(); best != nil && best.AgentName == r.cfg.DefaultAgent {
			confidence = best.Score
		}
		return domain.RoutingDecision{
			AgentName:  r.cfg.DefaultAgent,
			Confidence: confidence,
			Reasoning:  "default agent (LLM routing unavailable)",
		}
	}
	return domain.RoutingDecision{
		Confidence: 0,
		Reasoning:  "no agent match found",
	}
}

// llmRoute asks the router model to pick an agent, providing the
// capability catalog and up to three turns of recent context.
func (r *Router) llmRoute(ctx context.Context, query string, classification domain.ClassificationResult, conv *domain.Conversation) (domain.RoutingDecision, error) {
	ctx, span := tracer.StartSpan(ctx, "router.llm_route",
		trace.WithAttributes(tracer.StringAttr("llm.model", r.cfg.RouterModel)),
	)
	defer span.End()

	catalog := formatCapabilityCatalog(r.registry.AllCapabilities())
	system := fmt.Sprintf(routerSystemPrompt, catalog)

	user := "Query: " + query
	if conv != nil && conv.TurnCount() > 0 {
		recent := trimToTokenBudget(conv.RecentContext(3), r.cfg.ContextTokens)
		user = fmt.Sprintf("Recent conversation:\n%s\n\nNew query: %s", recent, query)
	}
	if best := classification.Best(); best != nil {
		user += fmt.Sprintf("\n\nCode-based hint: possibly %s (confidence: %.2f)", best.AgentName, best.Score)
	}

	resp, err := r.provider.Chat(ctx, domain.ChatRequest{
		Model:     r.cfg.RouterModel,
		System:    system,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: user}},
		MaxTokens: 150,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, domain.WrapOp("router llm", err)
	}

	decision := r.parseLLMResponse(resp.Message.Content)
	tracer.SetOK(span)
	return decision, nil
}

// parseLLMResponse extracts AGENT / CONFIDENCE / REASONING lines. An
// unknown agent name degrades to fallback rather than an error, so one
// hallucinated name cannot take the gateway down.
func (r *Router) parseLLMResponse(text string) domain.RoutingDecision {
	decision := domain.RoutingDecision{
		Confidence: 0.5,
		Reasoning:  "LLM routing",
	}
	agent := ""

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "AGENT"):
			agent = strings.ToLower(strings.TrimSpace(trimFieldPrefix(line)))
		case strings.HasPrefix(upper, "CONFIDENCE"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(trimFieldPrefix(line)), 64); err == nil {
				decision.Confidence = clamp01(v)
			}
		case strings.HasPrefix(upper, "REASONING"):
			if reason := strings.TrimSpace(trimFieldPrefix(line)); reason != "" {
				decision.Reasoning = reason
			}
		}
	}

	switch agent {
	case "direct":
		decision.HandleDirectly = true
	case "", "none":
		// Fallback: no agent.
	default:
		if r.registry.Has(agent) {
			decision.AgentName = agent
		} else {
			decision.Reasoning = fmt.Sprintf("LLM suggested unknown agent %q", agent)
		}
	}
	return decision
}

// trimFieldPrefix strips a "FIELD:" or "FIELD=" prefix from a line.
func trimFieldPrefix(line string) string {
	if i := strings.IndexAny(line, ":="); i >= 0 {
		return line[i+1:]
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
