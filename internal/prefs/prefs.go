// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package prefs is a small persistent key/value store backed by a YAML file.
package prefs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Well-known keys.
const (
	// KeyDeveloperDirs lists directories searched for developer manifests.
	KeyDeveloperDirs = "developer-dirs"
	// KeyDeveloperPatterns lists glob patterns restricting which module ids
	// may be overridden from developer directories.
	KeyDeveloperPatterns = "developer-patterns"
)

// Store is a key/value store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]any
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]any)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, oops.In("prefs").With("path", path).Wrapf(err, "read preferences")
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, oops.In("prefs").With("path", path).Wrapf(err, "parse preferences")
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	return s, nil
}

// NewMemory creates a store that is never saved.
func NewMemory(values map[string]any) *Store {
	s := &Store{values: make(map[string]any, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get returns the value of key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns the string value of key, or "".
func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Strings returns a list value. A single string is returned as a
// one-element list.
func (s *Store) Strings(key string) []string {
	v, _ := s.Get(key)
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// StringMap returns a map value with string entries.
func (s *Store) StringMap(key string) map[string]string {
	v, _ := s.Get(key)
	out := make(map[string]string)
	switch val := v.(type) {
	case map[string]string:
		for k, item := range val {
			out[k] = item
		}
	case map[string]any:
		for k, item := range val {
			if str, ok := item.(string); ok {
				out[k] = str
			}
		}
	}
	return out
}

// Set stores value under key and saves the store.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return s.Save()
}

// Delete removes key and saves the store.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return s.Save()
}

// Save writes the store to disk through a temp file and rename.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := yaml.Marshal(s.values)
	s.mu.RUnlock()
	if err != nil {
		return oops.In("prefs").Wrapf(err, "encode preferences")
	}

	errb := oops.In("prefs").With("path", s.path)
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errb.Wrapf(err, "create preferences directory")
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.tmp")
	if err != nil {
		return errb.Wrapf(err, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errb.Wrapf(err, "write preferences")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errb.Wrapf(err, "close preferences")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errb.Wrapf(err, "replace preferences")
	}
	return nil
}
