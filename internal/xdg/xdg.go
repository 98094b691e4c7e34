// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for devicekit.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "devicekit"

// ConfigFileName is the configuration file inside ConfigDir.
const ConfigFileName = "config.yaml"

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns the XDG config directory for devicekit.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string { return dir("XDG_CONFIG_HOME", ".config") }

// CacheDir returns the XDG cache directory, home of the manifest cache and
// installed modules. Checks XDG_CACHE_HOME first, falls back to ~/.cache.
func CacheDir() string { return dir("XDG_CACHE_HOME", ".cache") }

// DataDir returns the XDG data directory for devicekit.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string { return dir("XDG_DATA_HOME", ".local", "share") }

// StateDir returns the XDG state directory, home of the preferences file.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string { return dir("XDG_STATE_HOME", ".local", "state") }

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
