// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devicekit/internal/prefs"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)
	assert.Nil(t, s.Strings(prefs.KeyDeveloperDirs))
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	s, err := prefs.Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(prefs.KeyDeveloperDirs, []string{"/a", "/b"}))
	require.NoError(t, s.Set("session", map[string]string{"oauth2-state-x": "abc"}))

	reopened, err := prefs.Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, reopened.Strings(prefs.KeyDeveloperDirs))
	assert.Equal(t, map[string]string{"oauth2-state-x": "abc"}, reopened.StringMap("session"))

	require.NoError(t, reopened.Delete("session"))
	again, err := prefs.Open(path)
	require.NoError(t, err)
	assert.Empty(t, again.StringMap("session"))
}

func TestStringsAcceptsSingleValue(t *testing.T) {
	s := prefs.NewMemory(map[string]any{"one": "/only", "name": "x"})
	assert.Equal(t, []string{"/only"}, s.Strings("one"))
	assert.Equal(t, "x", s.String("name"))
	require.NoError(t, s.Set("k", 1), "memory stores never touch disk")
}

func TestOpenRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o600))
	_, err := prefs.Open(path)
	assert.Error(t, err)
}
