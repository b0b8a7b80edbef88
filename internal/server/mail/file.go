package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSender appends messages to a JSON array on disk. A missing or
// corrupt file starts a new array.
type FileSender struct {
	mu   sync.Mutex
	path string
}

func NewFileSender(path string) *FileSender {
	return &FileSender{path: path}
}

func (s *FileSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mail file: %w", err)
	}

	var messages []Message
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if json.Unmarshal(data, &messages) != nil {
			messages = nil
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("mail file: %w", err)
	}

	messages = append(messages, msg)
	out, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("mail file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("mail file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("mail file: %w", err)
	}
	return nil
}

// ReadFile returns every message stored at path.
func ReadFile(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
