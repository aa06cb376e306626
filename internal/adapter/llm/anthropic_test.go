package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarvis/internal/domain"
	"clarvis/internal/infra/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	return NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: srv.URL,
	}, discardLogger())
}

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, defaultAnthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg_1",
			Model: "claude-3-5-haiku-20241022",
			Content: []anthropicContent{
				{Type: "text", Text: "AGENT: gmail\nCONFIDENCE: 0.8\nREASONING: mail"},
			},
			Usage: anthropicUsage{InputTokens: 10, OutputTokens: 20},
		})
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Model:    "claude-3-5-haiku-20241022",
		System:   "route queries",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "check email"}},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Message.Content, "AGENT: gmail")
	assert.Equal(t, 30, resp.Usage.TotalTokens)

	assert.Equal(t, "route queries", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestAnthropicChatErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusInternalServerError, domain.ErrProviderError},
	}
	for _, tc := range cases {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := p.Chat(context.Background(), domain.ChatRequest{Model: "m"})
		require.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestAnthropicChatStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello "}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"world"}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"message_stop"}`+"\n\n")
	})

	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var done bool
	for delta := range ch {
		text += delta.Content
		if delta.Done {
			done = true
		}
	}
	assert.Equal(t, "Hello world", text)
	assert.True(t, done)
}

func TestReadStreamEventsSkipsNoise(t *testing.T) {
	p := &AnthropicProvider{logger: discardLogger()}
	body := io.NopCloser(strings.NewReader(
		": keep-alive comment\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"one \"}}\n\n" +
			"data: not json at all\n\n" +
			"data: {\"type\":\"ping\"}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"two\"}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"after stop\"}}\n\n",
	))

	var text string
	var done bool
	for delta := range p.readStreamEvents(context.Background(), body) {
		text += delta.Content
		if delta.Done {
			done = true
		}
	}
	assert.Equal(t, "one two", text)
	assert.True(t, done)
}

func TestReadStreamEventsUsage(t *testing.T) {
	p := &AnthropicProvider{logger: discardLogger()}
	body := io.NopCloser(strings.NewReader(
		"data: {\"type\":\"message_delta\",\"usage\":{\"input_tokens\":7,\"output_tokens\":3}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n",
	))

	var usage *domain.Usage
	for delta := range p.readStreamEvents(context.Background(), body) {
		if delta.Usage != nil {
			usage = delta.Usage
		}
	}
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.TotalTokens)
}

func TestAnthropicChatStreamCancellation(t *testing.T) {
	blockRelease := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"first"}}`+"\n\n")
		w.(http.Flusher).Flush()
		<-blockRelease
	})
	defer close(blockRelease)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.ChatStream(ctx, domain.ChatRequest{Model: "m"})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Content)
	cancel()

	// Channel closes once the parser notices cancellation.
	for range ch {
	}
}
