// Package settings persists the front-end's opaque settings object.
// The core only interprets one field, lastDirectory, which seeds the
// supervised process's initial working directory.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store serializes access to a JSON settings file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the settings object; a missing file yields an empty
// object, not an error.
func (s *Store) Load() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// Corrupt settings are treated as empty rather than fatal.
		return map[string]json.RawMessage{}, nil
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, nil
}

func (s *Store) Save(obj map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(obj)
}

func (s *Store) saveLocked(obj map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// LastDirectory returns the stored last working directory, or "" when
// unset or blank.
func (s *Store) LastDirectory() (string, error) {
	obj, err := s.Load()
	if err != nil {
		return "", err
	}
	raw, ok := obj["lastDirectory"]
	if !ok {
		return "", nil
	}
	var dir string
	if err := json.Unmarshal(raw, &dir); err != nil {
		return "", nil
	}
	return strings.TrimSpace(dir), nil
}

// SetLastDirectory updates only the lastDirectory field, preserving
// every other key the front-end stored.
func (s *Store) SetLastDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err := s.loadLocked()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(dir)
	if err != nil {
		return err
	}
	obj["lastDirectory"] = raw
	return s.saveLocked(obj)
}
