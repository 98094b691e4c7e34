// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/pkg/errutil"
)

func TestGetMissingIsNotFound(t *testing.T) {
	s := cache.New(t.TempDir())

	_, err := s.Get("com.example.missing")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
	assert.False(t, s.IsFresh("com.example.missing"))
}

func TestPutThenGet(t *testing.T) {
	s := cache.New(t.TempDir())

	require.NoError(t, s.Put("com.example.a", "kind: com.example.a\n"))
	got, err := s.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "kind: com.example.a\n", got)

	require.NoError(t, s.Put("com.example.a", "kind: com.example.a\nversion: 2\n"))
	got, err = s.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "kind: com.example.a\nversion: 2\n", got)

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.a"}, ids)
}

func TestIDsWithPathCharacters(t *testing.T) {
	s := cache.New(t.TempDir())
	require.NoError(t, s.Put("org/weird id", "x"))

	got, err := s.Get("org/weird id")
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"org/weird id"}, ids)
}

func TestFreshnessWindow(t *testing.T) {
	written := time.Now()
	now := written
	s := cache.New(t.TempDir(), cache.WithClock(func() time.Time { return now }))
	require.NoError(t, s.Put("com.example.a", "text"))

	now = written.Add(6 * 24 * time.Hour)
	assert.True(t, s.IsFresh("com.example.a"), "six days old is fresh")

	now = written.Add(8 * 24 * time.Hour)
	assert.False(t, s.IsFresh("com.example.a"), "eight days old is stale")

	age, err := s.Age("com.example.a")
	require.NoError(t, err)
	assert.Greater(t, age, 7*24*time.Hour)
}

func TestWithTTL(t *testing.T) {
	s := cache.New(t.TempDir(), cache.WithTTL(time.Hour))
	require.NoError(t, s.Put("a", "text"))
	assert.Equal(t, time.Hour, s.TTL())
	assert.True(t, s.IsFresh("a"))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), cache.ManifestsDir, "a.yaml"), old, old))
	assert.False(t, s.IsFresh("a"))
}

func TestInterruptedWriteKeepsOldManifest(t *testing.T) {
	s := cache.New(t.TempDir())
	require.NoError(t, s.Put("com.example.a", "old manifest"))

	crash := errors.New("crashed before rename")
	var tmpPath string
	s.SetBeforeRename(func(tmp string) error {
		tmpPath = tmp
		data, err := os.ReadFile(tmp)
		require.NoError(t, err)
		assert.Equal(t, "new manifest", string(data), "temp file is complete")
		return crash
	})

	err := s.Put("com.example.a", "new manifest")
	require.ErrorIs(t, err, crash)

	got, err := s.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "old manifest", got)

	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr), "failed write cleans up its temp file")
}

func TestConcurrentReadersSeeCompleteManifests(t *testing.T) {
	s := cache.New(t.TempDir())
	a := strings.Repeat("a", 256*1024)
	b := strings.Repeat("b", 256*1024)
	require.NoError(t, s.Put("big", a))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Get("big")
				if !assert.NoError(t, err) {
					return
				}
				if got != a && got != b {
					assert.Fail(t, "reader saw a partial manifest", "length %d", len(got))
					return
				}
			}
		}()
	}

	for i := range 20 {
		text := a
		if i%2 == 0 {
			text = b
		}
		require.NoError(t, s.Put("big", text))
	}
	close(stop)
	wg.Wait()
}

func TestInvalidateAndClear(t *testing.T) {
	s := cache.New(t.TempDir())
	require.NoError(t, s.Put("a", "1"))
	require.NoError(t, s.Put("b", "2"))

	require.NoError(t, s.Invalidate("a"))
	require.NoError(t, s.Invalidate("a"), "invalidating twice is fine")
	_, err := s.Get("a")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	require.NoError(t, s.Clear())
	_, err = s.Get("b")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	empty := cache.New(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, empty.Clear())
	ids, err := empty.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnsureLayoutLinksSDK(t *testing.T) {
	root := t.TempDir()
	sdk := t.TempDir()
	s := cache.New(root, cache.WithSDKDir(sdk))

	require.NoError(t, s.EnsureLayout())
	require.NoError(t, s.EnsureLayout())

	for _, dir := range []string{cache.ManifestsDir, cache.ModulesDir, cache.DownloadsDir} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	target, err := os.Readlink(filepath.Join(s.ModulesDir(), cache.SDKLink))
	require.NoError(t, err)
	assert.Equal(t, sdk, target)
}
