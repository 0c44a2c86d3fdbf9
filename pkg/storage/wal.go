package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal records exchange events for offline replay and audit
type Journal interface {
	Append(event string, data any) error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                   { return &NopJournal{} }
func (*NopJournal) Append(_ string, _ any) error { return nil }

// FileJournal appends one JSON object per line
type FileJournal struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

type journalEntry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f, now: time.Now}, nil
}

func (j *FileJournal) Append(event string, data any) error {
	line, err := json.Marshal(journalEntry{
		Timestamp: j.now().UTC().Format(time.RFC3339),
		Event:     event,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

func (j *FileJournal) Close() error { return j.f.Close() }

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
