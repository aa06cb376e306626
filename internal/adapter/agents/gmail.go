// Package agents holds the built-in specialist agents served by the
// gateway: email, ski conditions, and notes.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clarvis/internal/domain"
)

// EmailSummary is one mailbox entry handed to the email agent.
type EmailSummary struct {
	From    string
	Subject string
	Date    time.Time
	Snippet string
	Unread  bool
}

// MailSource fetches recent mailbox entries. The concrete implementation
// (IMAP, Gmail API, ...) is wired in by the host; the agent only consumes
// summaries.
type MailSource interface {
	FetchRecent(ctx context.Context, max int) ([]EmailSummary, error)
}

const gmailSystemPrompt = `You are an email assistant. You are given a list of recent emails
and a user question about them. Answer concisely using only the provided emails.
When asked about unread mail, consider only entries marked unread.`

const gmailFetchLimit = 25

// GmailAgent answers questions about the user's mailbox by summarizing
// fetched mail through the LLM.
type GmailAgent struct {
	provider domain.LLMProvider
	source   MailSource
	model    string
	logger   *slog.Logger
}

// NewGmailAgent creates the email agent.
func NewGmailAgent(provider domain.LLMProvider, source MailSource, model string, logger *slog.Logger) *GmailAgent {
	return &GmailAgent{provider: provider, source: source, model: model, logger: logger}
}

func (a *GmailAgent) Name() string        { return "gmail" }
func (a *GmailAgent) Description() string { return "Reads and summarizes your email" }

func (a *GmailAgent) Capabilities() []domain.AgentCapability {
	return []domain.AgentCapability{
		{
			Name:        "read_email",
			Description: "Check, read, and summarize recent emails",
			Keywords:    []string{"email", "emails", "inbox", "unread", "mail", "gmail", "message", "messages"},
			Examples:    []string{"check my email", "any unread emails?"},
		},
		{
			Name:        "search_email",
			Description: "Find emails from a sender or about a topic",
			Keywords:    []string{"from", "sender", "subject"},
			Examples:    []string{"emails from alice", "mail about the invoice"},
		},
	}
}

func (a *GmailAgent) HealthCheck(ctx context.Context) bool {
	return a.provider != nil && a.source != nil
}

func (a *GmailAgent) Process(ctx context.Context, query string, conv *domain.Conversation) (*domain.AgentResponse, error) {
	prompt, err := a.buildPrompt(ctx, query)
	if err != nil {
		return nil, err
	}

	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model:     a.model,
		System:    gmailSystemPrompt,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, domain.WrapOp("gmail", err)
	}

	return &domain.AgentResponse{
		Content:   resp.Message.Content,
		Success:   true,
		AgentName: a.Name(),
	}, nil
}

func (a *GmailAgent) Stream(ctx context.Context, query string, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	sp, ok := a.provider.(domain.StreamingLLMProvider)
	if !ok {
		return domain.OneShotStream(ctx, a, query, conv)
	}

	prompt, err := a.buildPrompt(ctx, query)
	if err != nil {
		return nil, err
	}

	deltas, err := sp.ChatStream(ctx, domain.ChatRequest{
		Model:     a.model,
		System:    gmailSystemPrompt,
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: prompt}},
		MaxTokens: 1024,
		Stream:    true,
	})
	if err != nil {
		return nil, domain.WrapOp("gmail stream", err)
	}

	ch := make(chan domain.AgentChunk)
	go func() {
		defer close(ch)
		for delta := range deltas {
			if delta.Content == "" {
				continue
			}
			select {
			case ch <- domain.AgentChunk{Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *GmailAgent) buildPrompt(ctx context.Context, query string) (string, error) {
	emails, err := a.source.FetchRecent(ctx, gmailFetchLimit)
	if err != nil {
		return "", fmt.Errorf("%w: fetch mailbox: %v", domain.ErrAgentFailure, err)
	}

	var b strings.Builder
	if len(emails) == 0 {
		b.WriteString("The mailbox has no recent emails.\n")
	} else {
		fmt.Fprintf(&b, "Recent emails (%d):\n", len(emails))
		for i, e := range emails {
			status := "read"
			if e.Unread {
				status = "unread"
			}
			fmt.Fprintf(&b, "%d. [%s] From: %s | Subject: %s | %s\n   %s\n",
				i+1, status, e.From, e.Subject, e.Date.Format("Jan 2 15:04"), e.Snippet)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return b.String(), nil
}
