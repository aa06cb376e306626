package agents

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarvis/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNotesAgent(t *testing.T) *NotesAgent {
	t.Helper()
	storage, err := NewNotesStorage(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return NewNotesAgent(storage, discardLogger())
}

func process(t *testing.T, a *NotesAgent, query string) string {
	t.Helper()
	resp, err := a.Process(context.Background(), query, nil)
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "notes", resp.AgentName)
	return resp.Content
}

func TestNotesAddAndShowList(t *testing.T) {
	a := newTestNotesAgent(t)

	out := process(t, a, "add milk and eggs to the grocery list")
	assert.Contains(t, out, "milk and eggs")
	assert.Contains(t, out, "2 item(s)")

	out = process(t, a, "show the grocery list")
	assert.Contains(t, out, "milk, eggs")
}

func TestNotesAddDeduplicates(t *testing.T) {
	a := newTestNotesAgent(t)
	process(t, a, "add milk to the grocery list")
	out := process(t, a, "add Milk, bread to the grocery list")
	assert.Contains(t, out, "2 item(s)")
}

func TestNotesRemoveFromList(t *testing.T) {
	a := newTestNotesAgent(t)
	process(t, a, "add milk, eggs, bread to the grocery list")

	out := process(t, a, "remove eggs from the grocery list")
	assert.Contains(t, out, "Removed eggs")

	out = process(t, a, "show the grocery list")
	assert.Contains(t, out, "milk, bread")
	assert.NotContains(t, out, "eggs")
}

func TestNotesRemoveUnknownList(t *testing.T) {
	a := newTestNotesAgent(t)
	out := process(t, a, "remove milk from the grocery list")
	assert.Contains(t, out, "don't have a list")
}

func TestNotesClearList(t *testing.T) {
	a := newTestNotesAgent(t)
	process(t, a, "add milk to the grocery list")
	out := process(t, a, "clear the grocery list")
	assert.Contains(t, out, "Cleared")

	out = process(t, a, "show the grocery list")
	assert.Contains(t, out, "empty")
}

func TestNotesSaveAndShowNotes(t *testing.T) {
	a := newTestNotesAgent(t)
	out := process(t, a, "note: the wifi password is hunter2")
	assert.Contains(t, out, "Saved a note")

	out = process(t, a, "show my notes")
	assert.Contains(t, out, "hunter2")
}

func TestNotesEmptyState(t *testing.T) {
	a := newTestNotesAgent(t)
	out := process(t, a, "show my notes")
	assert.Contains(t, out, "don't have any notes")
}

func TestNotesStorageSlugAndLookup(t *testing.T) {
	storage, err := NewNotesStorage(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	defer storage.Close()

	_, err = storage.AddToList(context.Background(), "Grocery Shopping", []string{"milk"})
	require.NoError(t, err)

	// Lookup normalizes the same way.
	note, err := storage.Get(context.Background(), "grocery   shopping")
	require.NoError(t, err)
	assert.Equal(t, "grocery-shopping", note.Name)
	assert.Equal(t, []string{"milk"}, note.Items)
}

func TestNotesStorageDelete(t *testing.T) {
	storage, err := NewNotesStorage(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	defer storage.Close()

	_, err = storage.SaveText(context.Background(), "secret", "hidden")
	require.NoError(t, err)
	require.NoError(t, storage.Delete(context.Background(), "secret"))

	err = storage.Delete(context.Background(), "secret")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotesHealthCheck(t *testing.T) {
	a := newTestNotesAgent(t)
	assert.True(t, a.HealthCheck(context.Background()))
	assert.False(t, (&NotesAgent{}).HealthCheck(context.Background()))
}
