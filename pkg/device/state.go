// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package device

import (
	"maps"
	"sync"
	"time"
)

// Well-known state keys.
const (
	StateKind         = "kind"
	StateAccessToken  = "accessToken"
	StateRefreshToken = "refreshToken"
	StateExpiresAt    = "expiresAt"
)

// State is the persisted state of a device instance. It is safe for
// concurrent use. Hosts persist it when notified through OnChange.
type State struct {
	mu        sync.RWMutex
	values    map[string]any
	listeners []func(*State)
}

// NewState creates a state holding a copy of values.
func NewState(values map[string]any) *State {
	s := &State{values: make(map[string]any, len(values))}
	maps.Copy(s.values, values)
	return s
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns the string stored under key, or "".
func (s *State) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Time returns the time stored under key. Times may be stored as time.Time,
// RFC 3339 strings or Unix milliseconds.
func (s *State) Time(key string) (time.Time, bool) {
	v, ok := s.Get(key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	case int64:
		return time.UnixMilli(t), true
	case float64:
		return time.UnixMilli(int64(t)), true
	case int:
		return time.UnixMilli(int64(t)), true
	default:
		return time.Time{}, false
	}
}

// Set stores value under key. It does not notify listeners.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Delete removes key.
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Snapshot returns a copy of all values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// OnChange registers a listener called by NotifyChanged.
func (s *State) OnChange(fn func(*State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// NotifyChanged signals that the state changed and should be persisted.
func (s *State) NotifyChanged() {
	s.mu.RLock()
	listeners := append([]func(*State){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
}
