package agents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clarvis/internal/domain"
)

const skiSystemPrompt = `You are a ski conditions reporter for Mt Hood Meadows.
You are given the raw conditions feed and a user question. Answer the question
from the feed, keeping the report short and upbeat. If the feed lacks the
requested detail, say so.`

const skiFetchMaxBody = 256 * 1024

// SkiAgent reports mountain conditions: it fetches the resort's conditions
// feed, caches it briefly, and answers through the LLM.
type SkiAgent struct {
	provider domain.LLMProvider
	client   *http.Client
	url      string
	model    string
	cacheTTL time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time

	now func() time.Time // for testing
}

// NewSkiAgent creates the ski conditions agent. url points at the
// conditions feed; cacheTTL bounds how stale a cached feed may be served.
func NewSkiAgent(provider domain.LLMProvider, url, model string, cacheTTL time.Duration, logger *slog.Logger) *SkiAgent {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &SkiAgent{
		provider: provider,
		client:   &http.Client{Timeout: 15 * time.Second},
		url:      url,
		model:    model,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (a *SkiAgent) Name() string        { return "ski" }
func (a *SkiAgent) Description() string { return "Reports ski conditions for Mt Hood Meadows" }

func (a *SkiAgent) Capabilities() []domain.AgentCapability {
	return []domain.AgentCapability{
		{
			Name:        "snow_conditions",
			Description: "Report snow depths and recent snowfall",
			Keywords:    []string{"snow", "powder", "depth", "base", "inches"},
			Examples:    []string{"How much snow at Meadows?", "What's the base depth?"},
		},
		{
			Name:        "lift_status",
			Description: "Report which lifts are open or on hold",
			Keywords:    []string{"lift", "lifts", "running", "closed"},
			Examples:    []string{"Are the lifts running?", "Which lifts are open?"},
		},
		{
			Name:        "full_report",
			Description: "Comprehensive ski conditions report",
			Keywords:    []string{"ski", "conditions", "report", "mountain"},
			Examples:    []string{"What's the ski report?", "Give me the full conditions"},
		},
	}
}

func (a *SkiAgent) HealthCheck(ctx context.Context) bool {
	return a.url != "" && a.provider != nil
}

func (a *SkiAgent) Process(ctx context.Context, query string, conv *domain.Conversation) (*domain.AgentResponse, error) {
	feed, err := a.conditions(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model:     a.model,
		System:    skiSystemPrompt,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: fmt.Sprintf("Conditions feed:\n%s\n\nQuestion: %s", feed, query)}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, domain.WrapOp("ski", err)
	}

	return &domain.AgentResponse{
		Content:   resp.Message.Content,
		Success:   true,
		AgentName: a.Name(),
		Metadata:  map[string]string{"feed_age": a.now().Sub(a.fetchedAtLocked()).Round(time.Second).String()},
	}, nil
}

func (a *SkiAgent) Stream(ctx context.Context, query string, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	return domain.OneShotStream(ctx, a, query, conv)
}

func (a *SkiAgent) fetchedAtLocked() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchedAt
}

// conditions returns the feed, served from cache while fresh.
func (a *SkiAgent) conditions(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.cached != "" && a.now().Sub(a.fetchedAt) < a.cacheTTL {
		feed := a.cached
		a.mu.Unlock()
		return feed, nil
	}
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrAgentFailure, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch conditions: %v", domain.ErrAgentFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: conditions feed returned %d", domain.ErrAgentFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, skiFetchMaxBody))
	if err != nil {
		return "", fmt.Errorf("%w: read conditions: %v", domain.ErrAgentFailure, err)
	}

	feed := string(body)
	a.mu.Lock()
	a.cached = feed
	a.fetchedAt = a.now()
	a.mu.Unlock()
	a.logger.Debug("ski conditions refreshed", "bytes", len(feed))
	return feed, nil
}
