package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clarvis/internal/domain"
	"clarvis/internal/infra/tracer"
)

// OrchestratorName is the agent name reported for directly handled turns.
const OrchestratorName = "orchestrator"

// FallbackName is the agent name reported when no agent could be routed.
const FallbackName = "fallback"

// OrchestratorConfig holds dispatch behavior knobs.
type OrchestratorConfig struct {
	Model             string            // model for direct handling
	ContextTokens     int               // token budget for direct-handling prompt context
	Announcements     map[string]string // agent name → streaming announcement prefix
	LogAgentResponses bool
}

// Orchestrator handles a query end to end: session resolution, routing,
// dispatch to a specialist (rate-limited), direct LLM handling, or
// fallback, and turn recording. Concurrent queries on the same session
// are serialized; different sessions proceed independently.
type Orchestrator struct {
	registry *Registry
	router   *Router
	sessions *SessionStore
	locker   *SessionLocker
	limiter  *RateLimiter
	provider domain.LLMProvider // nil: direct handling uses the canned reply
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestration pipeline together.
func NewOrchestrator(
	registry *Registry,
	router *Router,
	sessions *SessionStore,
	limiter *RateLimiter,
	provider domain.LLMProvider,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 1024
	}
	return &Orchestrator{
		registry: registry,
		router:   router,
		sessions: sessions,
		locker:   NewSessionLocker(),
		limiter:  limiter,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// Sessions exposes the session store for maintenance (sweep scheduling).
func (o *Orchestrator) Sessions() *SessionStore { return o.sessions }

// Registry exposes the agent registry for the endpoint layer.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// HealthCheck reports whether the orchestrator can serve queries: healthy
// when at least one agent is healthy, or when no agents are registered yet.
func (o *Orchestrator) HealthCheck(ctx context.Context) bool {
	health := o.registry.HealthCheckAll(ctx)
	if len(health) == 0 {
		return true
	}
	for _, ok := range health {
		if ok {
			return true
		}
	}
	return false
}

// Process handles a query on the buffered path. sessionID may be empty;
// the returned session ID is always set (echoed or freshly minted).
func (o *Orchestrator) Process(ctx context.Context, query, sessionID string) (*domain.AgentResponse, string) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.process")
	defer span.End()

	conv := o.sessions.GetOrCreate(sessionID)
	sid := conv.SessionID()

	unlock, err := o.locker.Lock(ctx, sid)
	if err != nil {
		return timeoutResponse(ctx), sid
	}
	defer unlock()

	decision := o.router.Route(ctx, query, conv)
	resp := o.dispatch(ctx, query, decision, conv)

	if ctx.Err() == nil && resp.Success {
		conv.AddTurn(query, resp.Content, resp.AgentName)
	}
	if o.cfg.LogAgentResponses {
		o.logger.Info("agent response",
			"agent", resp.AgentName,
			"success", resp.Success,
			"chars", len(resp.Content),
		)
	}
	return resp, sid
}

// dispatch runs the routing decision: direct handling, a named specialist
// behind the rate limiter, or the fallback message.
func (o *Orchestrator) dispatch(ctx context.Context, query string, decision domain.RoutingDecision, conv *domain.Conversation) *domain.AgentResponse {
	switch {
	case decision.HandleDirectly:
		return o.handleDirect(ctx, query, conv)
	case decision.AgentName != "":
		return o.callAgent(ctx, decision.AgentName, query, conv)
	default:
		return o.fallbackResponse()
	}
}

// handleDirect answers the query with the orchestrator's own model. A
// provider failure degrades to the canned greeting rather than an error:
// direct queries are greetings and small talk, and a friendly static
// reply beats a stack trace.
func (o *Orchestrator) handleDirect(ctx context.Context, query string, conv *domain.Conversation) *domain.AgentResponse {
	canned := &domain.AgentResponse{
		Content:   directFallbackText,
		Success:   true,
		AgentName: OrchestratorName,
		Metadata:  map[string]string{"handled_directly": "true", "fallback": "true"},
	}
	if o.provider == nil {
		return canned
	}

	resp, err := o.provider.Chat(ctx, domain.ChatRequest{
		Model:     o.cfg.Model,
		System:    directSystemPrompt,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: o.directUserMessage(query, conv)}},
		MaxTokens: 500,
	})
	if err != nil {
		if ctx.Err() != nil {
			return timeoutResponse(ctx)
		}
		o.logger.Warn("direct handling failed, using canned reply", "error", err)
		return canned
	}
	return &domain.AgentResponse{
		Content:   resp.Message.Content,
		Success:   true,
		AgentName: OrchestratorName,
		Metadata:  map[string]string{"handled_directly": "true"},
	}
}

func (o *Orchestrator) directUserMessage(query string, conv *domain.Conversation) string {
	if conv == nil || conv.TurnCount() == 0 {
		return query
	}
	recent := trimToTokenBudget(conv.RecentContext(2), o.cfg.ContextTokens)
	return fmt.Sprintf("Recent conversation:\n%s\n\nNew query: %s", recent, query)
}

// callAgent dispatches to a registered specialist, guarded by the
// per-agent rate limit. Panics inside the agent are contained here; the
// registry entry stays usable for future calls.
func (o *Orchestrator) callAgent(ctx context.Context, name, query string, conv *domain.Conversation) (resp *domain.AgentResponse) {
	agent, err := o.registry.Get(name)
	if err != nil {
		o.logger.Warn("routed agent not registered", "agent", name)
		return o.fallbackResponse()
	}

	if !o.limiter.TryAcquire(name) {
		return o.rateLimitedResponse(name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("agent panicked", "agent", name, "panic", rec)
			resp = agentFailureResponse(name, fmt.Sprintf("panic: %v", rec))
		}
	}()

	result, err := agent.Process(ctx, query, conv)
	if err != nil {
		if ctx.Err() != nil {
			return timeoutResponse(ctx)
		}
		o.logger.Error("agent call failed", "agent", name, "error", err)
		return agentFailureResponse(name, err.Error())
	}
	return result
}

func (o *Orchestrator) rateLimitedResponse(name string) *domain.AgentResponse {
	wait := o.limiter.RetryAfter(name)
	content := fmt.Sprintf(
		"I'm getting too many requests for %s right now. Please try again in about %d seconds.",
		name, int(wait.Round(time.Second).Seconds()),
	)
	return &domain.AgentResponse{
		Content:   content,
		Success:   false,
		AgentName: name,
		Error:     "rate_limited",
	}
}

func agentFailureResponse(name, errMsg string) *domain.AgentResponse {
	return &domain.AgentResponse{
		Content:   "I tried to help with your request, but encountered an issue. Please try again.",
		Success:   false,
		AgentName: name,
		Error:     errMsg,
	}
}

func timeoutResponse(ctx context.Context) *domain.AgentResponse {
	errMsg := "timeout"
	if ctx.Err() == context.Canceled {
		errMsg = "cancelled"
	}
	return &domain.AgentResponse{
		Content:   "I'm sorry, that took too long. Please try again.",
		Success:   false,
		AgentName: OrchestratorName,
		Error:     errMsg,
	}
}

// ProcessDirect dispatches straight to a named agent, bypassing the
// router and session machinery. Used by the per-agent endpoint. The
// rate limiter and panic containment still apply.
func (o *Orchestrator) ProcessDirect(ctx context.Context, name, query string) *domain.AgentResponse {
	return o.callAgent(ctx, name, query, nil)
}

// fallbackResponse lists what the gateway can do so the user can rephrase.
func (o *Orchestrator) fallbackResponse() *domain.AgentResponse {
	names := o.registry.List()
	var content string
	if len(names) > 0 {
		content = fmt.Sprintf(
			"I'm not sure how to help with that specific request. I can assist with: %s. "+
				"Could you rephrase your question or ask about one of these topics?",
			strings.Join(names, ", "),
		)
	} else {
		content = "I'm not sure how to help with that request. Could you try rephrasing your question?"
	}
	return &domain.AgentResponse{
		Content:   content,
		Success:   true,
		AgentName: FallbackName,
		Metadata:  map[string]string{"fallback": "true"},
	}
}

// Stream handles a query on the streaming path. Chunks arrive in emission
// order; a chunk with Err set is terminal. The turn is recorded only after
// the stream completes without error or cancellation. The announcement
// prefix, when configured for the routed agent, is emitted first and is
// not part of the recorded turn.
func (o *Orchestrator) Stream(ctx context.Context, query, sessionID string) (<-chan domain.AgentChunk, string) {
	conv := o.sessions.GetOrCreate(sessionID)
	sid := conv.SessionID()

	out := make(chan domain.AgentChunk)
	go func() {
		defer close(out)

		ctx, span := tracer.StartSpan(ctx, "orchestrator.stream")
		defer span.End()

		unlock, err := o.locker.Lock(ctx, sid)
		if err != nil {
			emit(ctx, out, domain.AgentChunk{Err: err})
			return
		}
		defer unlock()

		decision := o.router.Route(ctx, query, conv)

		agentUsed := OrchestratorName
		switch {
		case decision.HandleDirectly:
		case decision.AgentName != "":
			agentUsed = decision.AgentName
		default:
			agentUsed = FallbackName
		}

		if ann := o.cfg.Announcements[decision.AgentName]; ann != "" && decision.AgentName != "" {
			if !emit(ctx, out, domain.AgentChunk{Text: ann}) {
				return
			}
		}

		src, err := o.openStream(ctx, query, decision, conv)
		if err != nil {
			o.logger.Error("stream open failed", "agent", agentUsed, "error", err)
			emit(ctx, out, domain.AgentChunk{
				Text: "I tried to help with your request, but encountered an issue. Please try again.",
				Err:  err,
			})
			return
		}

		var collected strings.Builder
		for chunk := range src {
			if chunk.Err != nil {
				o.logger.Error("stream failed mid-flight", "agent", agentUsed, "error", chunk.Err)
				emit(ctx, out, chunk)
				return
			}
			collected.WriteString(chunk.Text)
			if !emit(ctx, out, chunk) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		conv.AddTurn(query, collected.String(), agentUsed)
	}()
	return out, sid
}

// emit sends a chunk unless ctx is cancelled. Reports whether the send
// happened.
func emit(ctx context.Context, out chan<- domain.AgentChunk, chunk domain.AgentChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// openStream starts the chunk source for the routed target.
func (o *Orchestrator) openStream(ctx context.Context, query string, decision domain.RoutingDecision, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	switch {
	case decision.HandleDirectly:
		return o.streamDirect(ctx, query, conv)
	case decision.AgentName != "":
		return o.streamAgent(ctx, decision.AgentName, query, conv)
	default:
		resp := o.fallbackResponse()
		ch := make(chan domain.AgentChunk, 1)
		ch <- domain.AgentChunk{Text: resp.Content}
		close(ch)
		return ch, nil
	}
}

func (o *Orchestrator) streamDirect(ctx context.Context, query string, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	oneShot := func(text string) <-chan domain.AgentChunk {
		ch := make(chan domain.AgentChunk, 1)
		ch <- domain.AgentChunk{Text: text}
		close(ch)
		return ch
	}

	sp, ok := o.provider.(domain.StreamingLLMProvider)
	if !ok || o.provider == nil {
		resp := o.handleDirect(ctx, query, conv)
		return oneShot(resp.Content), nil
	}

	deltas, err := sp.ChatStream(ctx, domain.ChatRequest{
		Model:     o.cfg.Model,
		System:    directSystemPrompt,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: o.directUserMessage(query, conv)}},
		MaxTokens: 500,
		Stream:    true,
	})
	if err != nil {
		o.logger.Warn("direct streaming failed, using canned reply", "error", err)
		return oneShot(directFallbackText), nil
	}

	ch := make(chan domain.AgentChunk)
	go func() {
		defer close(ch)
		for delta := range deltas {
			if delta.Content == "" {
				continue
			}
			if !emit(ctx, ch, domain.AgentChunk{Text: delta.Content}) {
				return
			}
		}
	}()
	return ch, nil
}

// streamAgent delegates to the specialist's stream, containing panics from
// the Stream call itself so a bad agent cannot kill the request worker.
func (o *Orchestrator) streamAgent(ctx context.Context, name, query string, conv *domain.Conversation) (src <-chan domain.AgentChunk, err error) {
	agent, regErr := o.registry.Get(name)
	if regErr != nil {
		resp := o.fallbackResponse()
		ch := make(chan domain.AgentChunk, 1)
		ch <- domain.AgentChunk{Text: resp.Content}
		close(ch)
		return ch, nil
	}

	if !o.limiter.TryAcquire(name) {
		resp := o.rateLimitedResponse(name)
		ch := make(chan domain.AgentChunk, 1)
		ch <- domain.AgentChunk{Text: resp.Content, Err: domain.ErrRateLimit}
		close(ch)
		return ch, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("agent stream panicked", "agent", name, "panic", rec)
			src, err = nil, fmt.Errorf("%w: panic: %v", domain.ErrAgentFailure, rec)
		}
	}()
	return agent.Stream(ctx, query, conv)
}
