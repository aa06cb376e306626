package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"clarvis/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capWithKeywords(name string, keywords ...string) domain.AgentCapability {
	return domain.AgentCapability{
		Name:        name,
		Description: name + " capability",
		Keywords:    keywords,
		Examples:    []string{"example query for " + name},
	}
}

// fakeAgent is a scriptable domain.Agent for orchestrator and router tests.
type fakeAgent struct {
	name         string
	caps         []domain.AgentCapability
	response     string
	processErr   error
	panicOnCall  bool
	streamChunks []string
	streamErr    error // delivered as a terminal chunk after streamChunks
	healthy      bool
	processCalls atomic.Int32
}

func newFakeAgent(name string, keywords ...string) *fakeAgent {
	return &fakeAgent{
		name:     name,
		caps:     []domain.AgentCapability{capWithKeywords(name+"_main", keywords...)},
		response: name + " response",
		healthy:  true,
	}
}

func (f *fakeAgent) Name() string                           { return f.name }
func (f *fakeAgent) Description() string                    { return f.name + " agent" }
func (f *fakeAgent) Capabilities() []domain.AgentCapability { return f.caps }
func (f *fakeAgent) HealthCheck(context.Context) bool       { return f.healthy }

func (f *fakeAgent) Process(ctx context.Context, query string, conv *domain.Conversation) (*domain.AgentResponse, error) {
	f.processCalls.Add(1)
	if f.panicOnCall {
		panic("fake agent exploded")
	}
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &domain.AgentResponse{
		Content:   f.response,
		Success:   true,
		AgentName: f.name,
	}, nil
}

func (f *fakeAgent) Stream(ctx context.Context, query string, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	if f.panicOnCall {
		panic("fake agent exploded")
	}
	if len(f.streamChunks) == 0 && f.streamErr == nil {
		return domain.OneShotStream(ctx, f, query, conv)
	}
	ch := make(chan domain.AgentChunk)
	go func() {
		defer close(ch)
		for _, text := range f.streamChunks {
			select {
			case ch <- domain.AgentChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if f.streamErr != nil {
			select {
			case ch <- domain.AgentChunk{Err: f.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// fakeProvider is a scriptable domain.StreamingLLMProvider.
type fakeProvider struct {
	reply       string
	err         error
	deltas      []string
	streamErr   error
	lastRequest domain.ChatRequest
	calls       int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	p.lastRequest = req
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{
		Model:   req.Model,
		Message: domain.Message{Role: domain.RoleAssistant, Content: p.reply},
	}, nil
}

func (p *fakeProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	p.calls++
	p.lastRequest = req
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	ch := make(chan domain.StreamDelta, len(p.deltas)+1)
	for _, d := range p.deltas {
		ch <- domain.StreamDelta{Content: d}
	}
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}

// collect drains a chunk channel with a timeout so a hung stream fails the
// test instead of blocking forever.
func collect(ch <-chan domain.AgentChunk) (texts []string, errs []error) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return texts, errs
			}
			if chunk.Err != nil {
				errs = append(errs, chunk.Err)
			}
			if chunk.Text != "" {
				texts = append(texts, chunk.Text)
			}
		case <-timeout:
			errs = append(errs, context.DeadlineExceeded)
			return texts, errs
		}
	}
}
