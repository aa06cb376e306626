package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// FileMailSource reads mailbox entries from a JSON snapshot on disk. The
// host automation system keeps the snapshot current; real mailbox access
// (IMAP, OAuth) stays outside the gateway.
type FileMailSource struct {
	path string
}

// NewFileMailSource creates a mail source over the given snapshot file.
func NewFileMailSource(path string) *FileMailSource {
	return &FileMailSource{path: path}
}

type mailboxFile struct {
	Emails []mailboxEntry `json:"emails"`
}

type mailboxEntry struct {
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet"`
	Unread  bool      `json:"unread"`
}

// FetchRecent implements MailSource. Entries come back newest first. A
// missing snapshot reads as an empty mailbox rather than an error.
func (s *FileMailSource) FetchRecent(ctx context.Context, max int) ([]EmailSummary, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mailbox snapshot: %w", err)
	}

	var file mailboxFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mailbox snapshot: %w", err)
	}

	sort.Slice(file.Emails, func(i, j int) bool {
		return file.Emails[i].Date.After(file.Emails[j].Date)
	})
	if max > 0 && len(file.Emails) > max {
		file.Emails = file.Emails[:max]
	}

	out := make([]EmailSummary, 0, len(file.Emails))
	for _, e := range file.Emails {
		out = append(out, EmailSummary(e))
	}
	return out, nil
}
