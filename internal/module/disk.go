// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// DiskModule is a module whose code is downloaded from the catalog, unpacked
// into the cache and loaded through a code runtime.
type DiskModule struct {
	base
	// devDir is the developer directory holding the code, if any.
	devDir string
}

func newDiskModule(id string, def *schema.ClassDef, graph *schema.Graph, devDir string, e *env) *DiskModule {
	m := &DiskModule{devDir: devDir}
	m.init(id, def.Version, def, graph, e)
	m.compose = m.load
	m.onClear = func() { m.evict(m.Dir()) }
	return m
}

// Dir is the directory the module code lives in.
func (m *DiskModule) Dir() string {
	if m.devDir != "" {
		return m.devDir
	}
	return filepath.Join(m.env.downloader.store.ModulesDir(), url.PathEscape(m.id))
}

func (m *DiskModule) load(ctx context.Context) (*device.Class, error) {
	dir := m.Dir()
	if m.devDir != "" {
		class, err := m.requireAndCompose(ctx, dir)
		if err != nil {
			m.evict(dir)
			return nil, err
		}
		return class, nil
	}

	if m.installed(dir) {
		class, err := m.requireAndCompose(ctx, dir)
		if err == nil {
			return class, nil
		}
		errutil.LogWarn(m.env.logger.With("module", m.id), "installed module failed to load, downloading again", err)
		m.remove(dir)
	}

	class, err := m.install(ctx, dir)
	if err != nil {
		m.remove(dir)
		return nil, err
	}
	return class, nil
}

// installed reports whether dir holds a completed install of the manifest's
// version.
func (m *DiskModule) installed(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, CompletionMarker)); err != nil {
		return false
	}
	pkg, err := ReadPackage(dir)
	return err == nil && pkg.Version == m.version
}

func (m *DiskModule) install(ctx context.Context, dir string) (*device.Class, error) {
	d := m.env.downloader
	errb := oops.In("module").With("module", m.id)

	location, err := d.catalog.GetModuleLocation(ctx, m.id)
	if err != nil {
		return nil, errb.Wrapf(err, "locate module archive")
	}
	archivePath, err := m.download(ctx, location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(archivePath) }()

	staging := filepath.Join(d.store.ModulesDir(), ".staging-"+ulid.Make().String())
	defer func() { _ = os.RemoveAll(staging) }()
	if err := d.unzip(archivePath, staging); err != nil {
		return nil, errb.Wrapf(err, "unpack module archive")
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, errb.With("dir", dir).Wrapf(err, "remove previous install")
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, errb.With("dir", dir).Wrapf(err, "move module into place")
	}

	class, err := m.requireAndCompose(ctx, dir)
	if err != nil {
		return nil, err
	}

	marker := filepath.Join(dir, CompletionMarker)
	stamp := []byte(d.store.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(marker, stamp, 0o600); err != nil {
		return nil, errb.With("path", marker).Wrapf(err, "write completion marker")
	}
	m.env.logger.Info("module installed", "module", m.id, "version", m.version, "dir", dir)
	return class, nil
}

// download copies the archive at location into the downloads directory and
// returns its path.
func (m *DiskModule) download(ctx context.Context, location string) (string, error) {
	d := m.env.downloader
	errb := oops.In("module").With("module", m.id).With("location", location)

	u, err := url.Parse(location)
	if err != nil {
		return "", errb.Wrapf(err, "parse module location")
	}

	var src io.ReadCloser
	switch u.Scheme {
	case "file":
		f, err := os.Open(filepath.FromSlash(u.Path))
		if err != nil {
			return "", errb.Wrapf(err, "open module archive")
		}
		src = f
	case "http", "https":
		resp, err := d.http.Stream(ctx, httpclient.Request{
			Method:          http.MethodGet,
			URL:             location,
			FollowRedirects: true,
		})
		if err != nil {
			return "", errb.Wrapf(err, "download module archive")
		}
		src = resp.Body
	default:
		return "", errb.Errorf("unsupported module location scheme %q", u.Scheme)
	}
	defer src.Close()

	if err := os.MkdirAll(d.store.DownloadsDir(), 0o755); err != nil {
		return "", errb.Wrapf(err, "create downloads directory")
	}
	path := filepath.Join(d.store.DownloadsDir(), ulid.Make().String()+".zip")
	tmp := path + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // name is generated
	if err != nil {
		return "", errb.Wrapf(err, "create download file")
	}
	_, err = io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", errb.Wrapf(err, "write download file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errb.Wrapf(err, "finish download file")
	}
	return path, nil
}

func (m *DiskModule) requireAndCompose(ctx context.Context, dir string) (*device.Class, error) {
	d := m.env.downloader
	pkg, err := ReadPackage(dir)
	if err != nil {
		return nil, err
	}
	if pkg.Version != m.version && m.version != schema.DeveloperVersion {
		m.env.logger.Warn("package version differs from manifest version",
			"module", m.id,
			"package_version", pkg.Version,
			"manifest_version", m.version)
	}
	rt, ok := d.runtimes[pkg.Runtime]
	if !ok {
		return nil, oops.In("module").
			Code(errutil.CodeUnsupported).
			With("module", m.id).
			With("runtime", pkg.Runtime).
			Errorf("runtime %q is not available on this host", pkg.Runtime)
	}
	impl, err := rt.Require(ctx, dir, pkg)
	if err != nil {
		return nil, oops.In("module").With("module", m.id).With("runtime", pkg.Runtime).Wrapf(err, "load module code")
	}
	return m.composeClass(ctx, impl)
}

// remove deletes a failed install and the code loaded from it. Developer
// directories are never deleted.
func (m *DiskModule) remove(dir string) {
	m.evict(dir)
	if m.devDir != "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		errutil.LogWarn(m.env.logger.With("module", m.id), "failed to remove module directory", err)
	}
}

func (m *DiskModule) evict(dir string) {
	for _, rt := range m.env.downloader.runtimes {
		rt.Evict(dir)
	}
}
