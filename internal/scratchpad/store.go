// Package scratchpad provides the session-scoped free-text memory the oracle
// reads back each cycle. One file per session, removed when the session ends.
package scratchpad

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a file-backed text buffer keyed by session ID.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates (or truncates) the scratchpad file for a session.
func New(dir, sessionID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratchpad dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create scratchpad: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the backing file location, so executed code can be pointed at it.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Read returns the scratchpad contents. The oracle must always receive some
// scratchpad text, so read failures yield an explanatory placeholder instead
// of an error.
func (s *Store) Read() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Sprintf("(scratchpad unavailable: %v)", err)
	}
	if len(data) == 0 {
		return "(scratchpad is empty)"
	}
	return string(data)
}

// Append adds text to the end of the scratchpad.
func (s *Store) Append(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open scratchpad: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append scratchpad: %w", err)
	}
	return nil
}

// Clear empties the scratchpad, called at every level transition.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, nil, 0o644)
}

// Remove deletes the backing file at session end.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove scratchpad: %w", err)
	}
	return nil
}
