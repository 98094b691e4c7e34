// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/internal/prefs"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
)

var testEngine = device.StaticEngine("http://127.0.0.1:3000")

func parse(t *testing.T, text string) *schema.ClassDef {
	t.Helper()
	def, err := schema.YAMLParser{}.Parse(text)
	require.NoError(t, err)
	return def
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
}

func newDevice(t *testing.T, class *device.Class) *device.Device {
	t.Helper()
	d, err := class.New(context.Background(), testEngine, nil)
	require.NoError(t, err)
	return d
}

func value(v any) device.RawFunc {
	return func(context.Context, *device.Device, device.Params) (any, error) {
		return v, nil
	}
}

// countingCatalog serves a directory and counts manifest fetches. When gate
// is set, fetches block until it is closed.
type countingCatalog struct {
	*catalog.DirCatalog

	fetches atomic.Int32
	gate    chan struct{}

	mu   sync.Mutex
	fail error
}

func newCountingCatalog(dir string) *countingCatalog {
	return &countingCatalog{DirCatalog: catalog.NewDirCatalog(dir)}
}

func (c *countingCatalog) setFailure(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *countingCatalog) GetDeviceCode(ctx context.Context, id string) (string, error) {
	c.fetches.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	err := c.fail
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.DirCatalog.GetDeviceCode(ctx, id)
}

func prefsWithDeveloperDir(dir string) *prefs.Store {
	return prefs.NewMemory(map[string]any{prefs.KeyDeveloperDirs: []string{dir}})
}
