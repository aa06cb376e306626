package domain

import "context"

// AgentCapability describes one thing an agent can do. Keywords feed the
// fast-path classifier; examples feed the LLM routing prompt.
type AgentCapability struct {
	Name        string   `json:"name"        yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords"    yaml:"keywords"`
	Examples    []string `json:"examples"    yaml:"examples"`
}

// AgentResponse is the standardized response from any agent.
// When Success is false, Error carries the failure reason and Content may
// still hold user-facing fallback text.
type AgentResponse struct {
	Content   string            `json:"content"`
	Success   bool              `json:"success"`
	AgentName string            `json:"agent_name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// AgentChunk is one element of an agent's streamed response. A chunk with
// a non-nil Err is terminal; no further chunks follow it.
type AgentChunk struct {
	Text string
	Err  error
}

// Agent is the contract every specialist implements. Agents are owned by
// the registry for their registered lifetime; callers hold borrowed handles.
type Agent interface {
	Name() string
	Description() string
	Capabilities() []AgentCapability

	// Process handles a query and returns a complete response. The
	// conversation may be nil for one-shot calls.
	Process(ctx context.Context, query string, conv *Conversation) (*AgentResponse, error)

	// Stream yields response chunks in order. The channel is closed when
	// the response is complete or after a terminal error chunk. Agents
	// must stop producing when ctx is cancelled.
	Stream(ctx context.Context, query string, conv *Conversation) (<-chan AgentChunk, error)

	// HealthCheck reports whether the agent can currently serve queries.
	HealthCheck(ctx context.Context) bool
}

// OneShotStream adapts Process into the streaming contract: the complete
// response is delivered as a single chunk. Agents without native streaming
// use this as their Stream implementation.
func OneShotStream(ctx context.Context, a Agent, query string, conv *Conversation) (<-chan AgentChunk, error) {
	ch := make(chan AgentChunk, 1)
	go func() {
		defer close(ch)
		resp, err := a.Process(ctx, query, conv)
		if err != nil {
			select {
			case ch <- AgentChunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- AgentChunk{Text: resp.Content}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
