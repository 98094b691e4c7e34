// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package cache stores device manifests on disk.
//
// Manifests are replaced wholesale: a writer fills a temporary file in the
// manifest directory and renames it over the entry, so a reader sees either
// the old or the new text in full. Freshness is judged from the file's
// modification time.
package cache

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/pkg/errutil"
)

// DefaultTTL is how long a cached manifest stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// Layout directory names under the cache root.
const (
	ManifestsDir = "manifests"
	ModulesDir   = "modules"
	DownloadsDir = "downloads"
	// SDKLink is the symlink inside ModulesDir pointing at the shared SDK
	// directory, so unpacked modules resolve it as a sibling dependency.
	SDKLink = ".sdk"
)

// Store is a disk-backed manifest cache.
type Store struct {
	root   string
	ttl    time.Duration
	now    func() time.Time
	sdkDir string

	// beforeRename runs after the temp file is complete and before it is
	// renamed into place.
	beforeRename func(tmp string) error

	layoutOnce sync.Once
	layoutErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSDKDir sets the shared SDK directory linked into the modules layout.
func WithSDKDir(dir string) Option {
	return func(s *Store) { s.sdkDir = dir }
}

// New creates a store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		root: dir,
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// ModulesDir returns the directory unpacked modules live in.
func (s *Store) ModulesDir() string { return filepath.Join(s.root, ModulesDir) }

// DownloadsDir returns the directory archives are downloaded to.
func (s *Store) DownloadsDir() string { return filepath.Join(s.root, DownloadsDir) }

// TTL returns the freshness window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) manifestsDir() string { return filepath.Join(s.root, ManifestsDir) }

func (s *Store) path(id string) string {
	return filepath.Join(s.manifestsDir(), url.PathEscape(id)+".yaml")
}

// EnsureLayout creates the cache directories and the SDK link. It does the
// work once; later calls return the first result.
func (s *Store) EnsureLayout() error {
	s.layoutOnce.Do(func() {
		s.layoutErr = s.createLayout()
	})
	return s.layoutErr
}

func (s *Store) createLayout() error {
	for _, dir := range []string{s.manifestsDir(), s.ModulesDir(), s.DownloadsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return oops.In("cache").With("dir", dir).Wrapf(err, "create cache directory")
		}
	}
	if s.sdkDir == "" {
		return nil
	}
	link := filepath.Join(s.ModulesDir(), SDKLink)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.Symlink(s.sdkDir, link); err != nil {
		return oops.In("cache").With("target", s.sdkDir).Wrapf(err, "link SDK directory")
	}
	return nil
}

// Get returns the cached manifest text of id.
func (s *Store) Get(id string) (string, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", errutil.NotFound("cache", id)
	}
	if err != nil {
		return "", oops.In("cache").With("module", id).Wrapf(err, "read cached manifest")
	}
	return string(data), nil
}

// Put replaces the cached manifest text of id.
func (s *Store) Put(id, text string) (err error) {
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	errb := oops.In("cache").With("module", id)

	tmp, err := os.CreateTemp(s.manifestsDir(), ".manifest-*.tmp")
	if err != nil {
		return errb.Wrapf(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return errb.Wrapf(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errb.Wrapf(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errb.Wrapf(err, "close temp file")
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmp.Name()); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return errb.Wrapf(err, "replace cached manifest")
	}
	return nil
}

// Age returns how long ago the entry of id was written.
func (s *Store) Age(id string) (time.Duration, error) {
	info, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, errutil.NotFound("cache", id)
	}
	if err != nil {
		return 0, oops.In("cache").With("module", id).Wrapf(err, "stat cached manifest")
	}
	return s.now().Sub(info.ModTime()), nil
}

// IsFresh reports whether id is cached and younger than the TTL.
func (s *Store) IsFresh(id string) bool {
	age, err := s.Age(id)
	if err != nil {
		return false
	}
	return age <= s.ttl
}

// Invalidate removes the entry of id. Removing a missing entry is not an
// error.
func (s *Store) Invalidate(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.In("cache").With("module", id).Wrapf(err, "remove cached manifest")
	}
	return nil
}

// Clear removes every cached manifest.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.manifestsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return oops.In("cache").Wrapf(err, "list cached manifests")
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(s.manifestsDir(), entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.In("cache").With("file", entry.Name()).Wrapf(err, "remove cached manifest")
		}
	}
	return nil
}

// IDs lists the module ids with a cached manifest.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.manifestsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("cache").Wrapf(err, "list cached manifests")
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}
		id, err := url.PathUnescape(name[:len(name)-len(".yaml")])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
