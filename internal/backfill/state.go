package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultStatePath = "~/.mnemo/backfill-state.json"

// State tracks progress for resumable backfill runs. Files are identified by
// content hash so a re-saved or renamed export is not indexed twice.
type State struct {
	StartedAt       time.Time         `json:"started_at"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	Processed       map[string]string `json:"processed"` // content hash -> first path seen
	FilesRemaining  int               `json:"files_remaining"`
	MessagesIndexed int               `json:"messages_indexed"`
	DocumentsStored int               `json:"documents_stored"`
	Errors          []string          `json:"errors"`

	path string // not serialized
}

// LoadState loads the state at path (the default when empty), or creates a new one.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = defaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				Processed: make(map[string]string),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.Processed == nil {
		s.Processed = make(map[string]string)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed reports whether content with this hash has been indexed, and under which path.
func (s *State) IsProcessed(hash string) (string, bool) {
	p, ok := s.Processed[hash]
	return p, ok
}

func (s *State) MarkProcessed(hash, path string) {
	if s.Processed == nil {
		s.Processed = make(map[string]string)
	}
	s.Processed[hash] = path
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
