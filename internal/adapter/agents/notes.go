package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"clarvis/internal/domain"
)

// NotesAgent manages lists and free-text notes. Intent is parsed
// lexically; list operations never need an LLM round-trip.
type NotesAgent struct {
	storage *NotesStorage
	logger  *slog.Logger
}

// NewNotesAgent creates the notes agent on top of the given storage.
func NewNotesAgent(storage *NotesStorage, logger *slog.Logger) *NotesAgent {
	return &NotesAgent{storage: storage, logger: logger}
}

func (a *NotesAgent) Name() string        { return "notes" }
func (a *NotesAgent) Description() string { return "Keeps lists and notes" }

func (a *NotesAgent) Capabilities() []domain.AgentCapability {
	return []domain.AgentCapability{
		{
			Name:        "list_management",
			Description: "Add, remove, and show items on named lists",
			Keywords:    []string{"list", "grocery", "shopping", "todo", "add", "remove"},
			Examples:    []string{"add milk to the grocery list", "what's on my todo list?"},
		},
		{
			Name:        "notes",
			Description: "Save and recall free-form notes",
			Keywords:    []string{"note", "notes", "save", "remember"},
			Examples:    []string{"note: the wifi password is hunter2", "show my notes"},
		},
	}
}

func (a *NotesAgent) HealthCheck(ctx context.Context) bool { return a.storage != nil }

var (
	addToListRe      = regexp.MustCompile(`(?i)^(?:please\s+)?add\s+(.+?)\s+to\s+(?:the\s+|my\s+)?(.+?)(?:\s+list)?[?!.]*$`)
	removeFromListRe = regexp.MustCompile(`(?i)^(?:please\s+)?(?:remove|delete|take)\s+(.+?)\s+(?:from|off)\s+(?:the\s+|my\s+)?(.+?)(?:\s+list)?[?!.]*$`)
	clearListRe      = regexp.MustCompile(`(?i)^(?:please\s+)?(?:clear|empty)\s+(?:the\s+|my\s+)?(.+?)(?:\s+list)?[?!.]*$`)
	showListRe       = regexp.MustCompile(`(?i)(?:^|\b)(?:show|what'?s on|read|check)\s+(?:the\s+|my\s+)?(.+?)\s+list[?!.]*$`)
	saveNoteRe       = regexp.MustCompile(`(?i)^note[:,]?\s+(.+)$`)
	showNotesRe      = regexp.MustCompile(`(?i)\b(?:show|list|what)\b.*\bnotes\b`)
)

func (a *NotesAgent) Process(ctx context.Context, query string, conv *domain.Conversation) (*domain.AgentResponse, error) {
	content, err := a.handle(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, domain.WrapOp("notes", err)
	}
	return &domain.AgentResponse{
		Content:   content,
		Success:   true,
		AgentName: a.Name(),
	}, nil
}

func (a *NotesAgent) Stream(ctx context.Context, query string, conv *domain.Conversation) (<-chan domain.AgentChunk, error) {
	return domain.OneShotStream(ctx, a, query, conv)
}

func (a *NotesAgent) handle(ctx context.Context, query string) (string, error) {
	switch {
	case saveNoteRe.MatchString(query):
		body := saveNoteRe.FindStringSubmatch(query)[1]
		name := noteNameFor(body)
		if _, err := a.storage.SaveText(ctx, name, body); err != nil {
			return "", err
		}
		return fmt.Sprintf("Saved a note (%s).", name), nil

	case showNotesRe.MatchString(query):
		return a.renderAll(ctx)

	case addToListRe.MatchString(query):
		m := addToListRe.FindStringSubmatch(query)
		items := splitItems(m[1])
		note, err := a.storage.AddToList(ctx, m[2], items)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Added %s to the %s list. It now has %d item(s).",
			joinNatural(items), note.Name, len(note.Items)), nil

	case removeFromListRe.MatchString(query):
		m := removeFromListRe.FindStringSubmatch(query)
		note, removed, err := a.storage.RemoveFromList(ctx, m[2], splitItems(m[1]))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Sprintf("I don't have a list called %q.", m[2]), nil
			}
			return "", err
		}
		if len(removed) == 0 {
			return fmt.Sprintf("Nothing matching that was on the %s list.", note.Name), nil
		}
		return fmt.Sprintf("Removed %s from the %s list.", joinNatural(removed), note.Name), nil

	case clearListRe.MatchString(query) && !showListRe.MatchString(query):
		name := clearListRe.FindStringSubmatch(query)[1]
		note, err := a.storage.ClearList(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Sprintf("I don't have a list called %q.", name), nil
			}
			return "", err
		}
		return fmt.Sprintf("Cleared the %s list.", note.Name), nil

	case showListRe.MatchString(query):
		name := showListRe.FindStringSubmatch(query)[1]
		note, err := a.storage.Get(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Sprintf("I don't have a list called %q.", name), nil
			}
			return "", err
		}
		return renderNote(note), nil

	default:
		return a.renderAll(ctx)
	}
}

func (a *NotesAgent) renderAll(ctx context.Context) (string, error) {
	notes, err := a.storage.List(ctx)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "You don't have any notes yet.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d note(s):\n", len(notes))
	for _, n := range notes {
		b.WriteString(renderNote(&n))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func renderNote(n *Note) string {
	if n.Kind == "list" {
		if len(n.Items) == 0 {
			return fmt.Sprintf("The %s list is empty.", n.Name)
		}
		return fmt.Sprintf("%s list: %s", n.Name, strings.Join(n.Items, ", "))
	}
	return fmt.Sprintf("%s: %s", n.Name, n.Content)
}

// splitItems breaks "milk, eggs and bread" into separate items.
var itemSplitRe = regexp.MustCompile(`(?i)\s*,\s*|\s+and\s+`)

func splitItems(s string) []string {
	parts := itemSplitRe.Split(s, -1)
	var items []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return "nothing"
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

// noteNameFor derives a short stable name from the note body.
func noteNameFor(body string) string {
	words := strings.Fields(body)
	if len(words) > 4 {
		words = words[:4]
	}
	return slugify(strings.Join(words, " "))
}
