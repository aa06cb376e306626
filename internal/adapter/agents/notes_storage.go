package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clarvis/internal/domain"
)

// Note is one stored note: either a list (Items) or free text (Content).
type Note struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // "list" or "text"
	Content   string    `json:"content,omitempty"`
	Items     []string  `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotesStorage persists notes in SQLite.
type NotesStorage struct {
	db *sql.DB
}

// NewNotesStorage opens (or creates) the notes database at dbPath and
// runs the schema migration. Use ":memory:" for tests.
func NewNotesStorage(dbPath string) (*NotesStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open notes db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateNotes(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate notes db: %w", err)
	}
	return &NotesStorage{db: db}, nil
}

func migrateNotes(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			kind       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			items      TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *NotesStorage) Close() error { return s.db.Close() }

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify normalizes a note name for lookup: lowercase, words joined by
// single dashes.
func slugify(name string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}

// Get returns the note with the given name, or ErrNotFound.
func (s *NotesStorage) Get(ctx context.Context, name string) (*Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, content, items, created_at, updated_at FROM notes WHERE name = ?`,
		slugify(name),
	)
	return scanNote(row)
}

// List returns all notes ordered by last update, newest first.
func (s *NotesStorage) List(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, content, items, created_at, updated_at FROM notes ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNoteRow(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// AddToList appends items to the named list, creating the list if needed.
// Items already present (case-insensitive) are skipped.
func (s *NotesStorage) AddToList(ctx context.Context, name string, items []string) (*Note, error) {
	note, err := s.Get(ctx, name)
	if err != nil {
		now := time.Now().UTC()
		note = &Note{Name: slugify(name), Kind: "list", CreatedAt: now, UpdatedAt: now}
	}
	if note.Kind != "list" {
		return nil, domain.NewDomainError("NotesStorage.AddToList", domain.ErrInvalidInput,
			fmt.Sprintf("note %q is not a list", name))
	}

	existing := make(map[string]struct{}, len(note.Items))
	for _, it := range note.Items {
		existing[strings.ToLower(it)] = struct{}{}
	}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := existing[strings.ToLower(it)]; dup {
			continue
		}
		note.Items = append(note.Items, it)
		existing[strings.ToLower(it)] = struct{}{}
	}
	return note, s.upsert(ctx, note)
}

// RemoveFromList removes items (case-insensitive) from the named list and
// returns the updated note plus the items actually removed.
func (s *NotesStorage) RemoveFromList(ctx context.Context, name string, items []string) (*Note, []string, error) {
	note, err := s.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	drop := make(map[string]struct{}, len(items))
	for _, it := range items {
		drop[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}

	var kept []string
	var removed []string
	for _, it := range note.Items {
		if _, hit := drop[strings.ToLower(it)]; hit {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	note.Items = kept
	return note, removed, s.upsert(ctx, note)
}

// ClearList empties the named list.
func (s *NotesStorage) ClearList(ctx context.Context, name string) (*Note, error) {
	note, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	note.Items = nil
	return note, s.upsert(ctx, note)
}

// SaveText creates or replaces a free-text note.
func (s *NotesStorage) SaveText(ctx context.Context, name, content string) (*Note, error) {
	now := time.Now().UTC()
	note := &Note{Name: slugify(name), Kind: "text", Content: content, CreatedAt: now, UpdatedAt: now}
	return note, s.upsert(ctx, note)
}

// Delete removes a note entirely.
func (s *NotesStorage) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE name = ?`, slugify(name))
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("NotesStorage.Delete", domain.ErrNotFound, name)
	}
	return nil
}

func (s *NotesStorage) upsert(ctx context.Context, note *Note) error {
	items, err := json.Marshal(note.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (name, kind, content, items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			content = excluded.content,
			items = excluded.items,
			updated_at = excluded.updated_at`,
		note.Name, note.Kind, note.Content, string(items),
		note.CreatedAt.Format(time.RFC3339), note.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row *sql.Row) (*Note, error) {
	n, err := scanNoteRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func scanNoteRow(row rowScanner) (*Note, error) {
	var n Note
	var items, created, updated string
	if err := row.Scan(&n.ID, &n.Name, &n.Kind, &n.Content, &items, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &n.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339, created)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &n, nil
}
