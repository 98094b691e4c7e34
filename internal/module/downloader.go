// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/module/archive"
	"github.com/holomush/devicekit/internal/observability"
	"github.com/holomush/devicekit/internal/prefs"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

var tracer = otel.Tracer("devicekit/module")

// Downloader hands out modules by id. Concurrent requests for the same id
// share a single load; a failed load is forgotten so the next request tries
// again.
type Downloader struct {
	catalog    catalog.Catalog
	store      *cache.Store
	parser     schema.Parser
	registry   *schema.Registry
	prefs      *prefs.Store
	builtins   map[string]*device.Implementation
	runtimes   map[string]Runtime
	translator func(domain string) func(string) string
	decorators []ClassDecorator
	http       *httpclient.Client
	unzip      func(src, dest string) error
	metrics    *observability.Metrics
	logger     *slog.Logger
	env        *env

	mu      sync.Mutex
	modules map[string]*entry
}

// entry is a load in flight or completed.
type entry struct {
	done   chan struct{}
	module Module
	err    error
}

func (e *entry) wait(ctx context.Context) (Module, error) {
	select {
	case <-e.done:
		return e.module, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func completed(m Module) *entry {
	e := &entry{done: make(chan struct{}), module: m}
	close(e.done)
	return e
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithParser replaces the manifest parser.
func WithParser(p schema.Parser) Option {
	return func(d *Downloader) { d.parser = p }
}

// WithRegistry shares a schema registry. Every loaded manifest is registered.
func WithRegistry(r *schema.Registry) Option {
	return func(d *Downloader) { d.registry = r }
}

// WithPrefs sets the preference store holding developer directories.
func WithPrefs(p *prefs.Store) Option {
	return func(d *Downloader) { d.prefs = p }
}

// WithBuiltin registers the in-process implementation of module id.
func WithBuiltin(id string, impl *device.Implementation) Option {
	return func(d *Downloader) { d.builtins[id] = impl }
}

// WithBuiltins registers several builtin implementations.
func WithBuiltins(impls map[string]*device.Implementation) Option {
	return func(d *Downloader) { maps.Copy(d.builtins, impls) }
}

// WithRuntime registers a code runtime for on-disk modules.
func WithRuntime(rt Runtime) Option {
	return func(d *Downloader) { d.runtimes[rt.Name()] = rt }
}

// WithTranslator sets the lookup of translation functions by domain, used
// for builtin manifests.
func WithTranslator(tr func(domain string) func(string) string) Option {
	return func(d *Downloader) { d.translator = tr }
}

// WithDecorator adds a class decorator applied after composition.
func WithDecorator(dec ClassDecorator) Option {
	return func(d *Downloader) { d.decorators = append(d.decorators, dec) }
}

// WithHTTPClient sets the client used to download module archives.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(d *Downloader) { d.http = c }
}

// WithUnzip replaces the archive unpacker.
func WithUnzip(fn func(src, dest string) error) Option {
	return func(d *Downloader) { d.unzip = fn }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Downloader) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// NewDownloader creates a Downloader reading manifests from cat through
// store.
func NewDownloader(cat catalog.Catalog, store *cache.Store, opts ...Option) *Downloader {
	d := &Downloader{
		catalog:  cat,
		store:    store,
		parser:   schema.YAMLParser{},
		registry: schema.NewRegistry(),
		builtins: make(map[string]*device.Implementation),
		runtimes: make(map[string]Runtime),
		unzip:    archive.Unzip,
		logger:   defaultLogger(),
		modules:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.http == nil {
		d.http = httpclient.New(httpclient.WithLogger(d.logger))
	}
	d.env = &env{logger: d.logger, decorators: d.decorators, downloader: d}
	return d
}

func defaultLogger() *slog.Logger { return slog.Default() }

// Registry returns the schema registry loaded manifests are registered in.
func (d *Downloader) Registry() *schema.Registry { return d.registry }

// Store returns the cache store.
func (d *Downloader) Store() *cache.Store { return d.store }

// GetModule returns the module id, loading it on first use.
func (d *Downloader) GetModule(ctx context.Context, id string) (Module, error) {
	d.mu.Lock()
	e, ok := d.modules[id]
	if !ok {
		e = &entry{done: make(chan struct{})}
		d.modules[id] = e
		go d.run(context.WithoutCancel(ctx), id, e, false)
	}
	d.mu.Unlock()
	return e.wait(ctx)
}

// UpdateModule drops the loaded module and its cached manifest and loads it
// again from the catalog.
func (d *Downloader) UpdateModule(ctx context.Context, id string) error {
	e := &entry{done: make(chan struct{})}
	d.mu.Lock()
	old := d.modules[id]
	d.modules[id] = e
	d.mu.Unlock()

	if old != nil {
		select {
		case <-old.done:
			if old.module != nil {
				old.module.ClearCache()
			}
		default:
		}
	}
	if err := d.store.Invalidate(id); err != nil {
		errutil.LogWarn(d.logger, "failed to invalidate cached manifest", err)
	}

	go d.run(context.WithoutCancel(ctx), id, e, true)
	_, err := e.wait(ctx)
	return err
}

// InjectModule installs m under id, replacing any loaded module.
func (d *Downloader) InjectModule(id string, m Module) {
	d.mu.Lock()
	d.modules[id] = completed(m)
	d.mu.Unlock()
}

// injectIfAbsent installs m unless id is already loaded or loading.
func (d *Downloader) injectIfAbsent(id string, m Module) {
	d.mu.Lock()
	if _, ok := d.modules[id]; !ok {
		d.modules[id] = completed(m)
	}
	d.mu.Unlock()
}

// Modules lists the ids of successfully loaded modules.
func (d *Downloader) Modules() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.modules))
	for id, e := range d.modules {
		select {
		case <-e.done:
			if e.module != nil {
				ids = append(ids, id)
			}
		default:
		}
	}
	slices.Sort(ids)
	return ids
}

// Close releases code held by the registered runtimes.
func (d *Downloader) Close() {
	for _, rt := range d.runtimes {
		rt.Evict("")
	}
}

func (d *Downloader) run(ctx context.Context, id string, e *entry, force bool) {
	finished := d.metrics.LoadStarted()
	defer finished()

	m, err := d.load(ctx, id, force)
	d.metrics.RecordLoad(err)
	if err != nil {
		errutil.LogWarn(d.logger.With("module", id), "module load failed", err)
		d.mu.Lock()
		if d.modules[id] == e {
			delete(d.modules, id)
		}
		d.mu.Unlock()
		e.err = err
		close(e.done)
		return
	}
	e.module = m
	close(e.done)
}

func (d *Downloader) load(ctx context.Context, id string, force bool) (_ Module, err error) {
	ctx, span := tracer.Start(ctx, "module.load",
		trace.WithAttributes(
			attribute.String("module.id", id),
			attribute.Bool("module.force", force),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := d.store.EnsureLayout(); err != nil {
		return nil, err
	}
	def, err := d.resolveManifest(ctx, id, force)
	if err != nil {
		return nil, err
	}
	d.registry.Register(def)
	span.SetAttributes(
		attribute.String("module.loader", string(def.LoaderType())),
		attribute.Int("module.version", def.Version),
	)
	if def.LoaderType() == schema.LoaderBuiltin {
		if tr := d.translate(def); tr != nil {
			def = def.Translate(tr)
		}
	}
	return d.instantiate(id, def, d.graph(ctx, def)), nil
}

// instantiate picks the loader strategy for def.
func (d *Downloader) instantiate(id string, def *schema.ClassDef, graph *schema.Graph) Module {
	switch def.LoaderType() {
	case schema.LoaderBuiltin:
		impl, ok := d.builtins[id]
		if !ok {
			d.logger.Warn("no builtin implementation registered, module is unsupported", "module", id)
			return newUnsupportedModule(id, def, graph, d.env)
		}
		return newBuiltinModule(id, def, graph, impl, d.env)
	case schema.LoaderOnDisk:
		if len(d.runtimes) == 0 {
			d.logger.Warn("no code runtime registered, module is unsupported", "module", id)
			return newUnsupportedModule(id, def, graph, d.env)
		}
		devDir := ""
		if def.Version == schema.DeveloperVersion {
			devDir = d.developerCodeDir(id)
		}
		return newDiskModule(id, def, graph, devDir, d.env)
	default:
		d.logger.Warn("unknown loader type, module is unsupported",
			"module", id,
			"loader", def.LoaderType())
		return newUnsupportedModule(id, def, graph, d.env)
	}
}

func (d *Downloader) translate(def *schema.ClassDef) func(string) string {
	if d.translator == nil || def.Metadata.Domain == "" {
		return nil
	}
	return d.translator(def.Metadata.Domain)
}

// LoadManifest resolves the manifest of id through developer directories,
// the cache and the catalog, and registers it.
func (d *Downloader) LoadManifest(ctx context.Context, id string) (*schema.ClassDef, error) {
	if err := d.store.EnsureLayout(); err != nil {
		return nil, err
	}
	def, err := d.resolveManifest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	d.registry.Register(def)
	return def, nil
}

// graph loads the ancestors of def into its class graph. Parents that fail
// to load are skipped with a warning.
func (d *Downloader) graph(ctx context.Context, def *schema.ClassDef) *schema.Graph {
	parents := make(map[string]*schema.ClassDef)
	visited := map[string]bool{def.Kind: true}
	queue := slices.Clone(def.Extends)
	for len(queue) > 0 {
		kind := queue[0]
		queue = queue[1:]
		if visited[kind] {
			continue
		}
		visited[kind] = true

		parent, err := d.LoadManifest(ctx, kind)
		if err != nil {
			d.logger.Warn("failed to load parent manifest",
				"kind", def.Kind,
				"parent", kind,
				"error", err)
			continue
		}
		parents[kind] = parent
		queue = append(queue, parent.Extends...)
	}
	return schema.NewGraph(def, parents, d.logger)
}

func (d *Downloader) resolveManifest(ctx context.Context, id string, force bool) (*schema.ClassDef, error) {
	if def, err := d.developerManifest(ctx, id); def != nil || err != nil {
		return def, err
	}

	if !force && d.store.IsFresh(id) {
		def, err := d.cachedManifest(id)
		if err == nil {
			d.metrics.RecordManifest(observability.CacheHit)
			return def, nil
		}
		errutil.LogWarn(d.logger.With("module", id), "discarding unreadable cached manifest", err)
	}
	if _, err := d.store.Age(id); err == nil {
		d.metrics.RecordManifest(observability.CacheStale)
	} else {
		d.metrics.RecordManifest(observability.CacheMiss)
	}

	text, err := d.catalog.GetDeviceCode(ctx, id)
	if err == nil {
		def, perr := d.parser.Parse(text)
		if perr != nil {
			return nil, oops.In("module").With("module", id).Wrapf(perr, "parse manifest")
		}
		if err := d.store.Put(id, text); err != nil {
			errutil.LogWarn(d.logger.With("module", id), "failed to cache manifest", err)
		}
		return def, nil
	}
	if errutil.IsNotFound(err) {
		return nil, err
	}

	if def := d.staleManifest(id); def != nil {
		d.logger.Warn("catalog unreachable, serving stale builtin manifest",
			"module", id,
			"error", err)
		d.metrics.RecordManifest(observability.CacheStaleServed)
		return def, nil
	}
	return nil, oops.In("module").With("module", id).Wrapf(err, "fetch manifest")
}

func (d *Downloader) cachedManifest(id string) (*schema.ClassDef, error) {
	text, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	return d.parser.Parse(text)
}

// staleManifest returns the cached manifest of id when it may be served
// past its TTL. Only builtin manifests qualify: their code ships with the
// host and cannot drift from the manifest.
func (d *Downloader) staleManifest(id string) *schema.ClassDef {
	def, err := d.cachedManifest(id)
	if err != nil || def.LoaderType() != schema.LoaderBuiltin {
		return nil
	}
	return def
}

// developerManifestNames are tried in order in each developer directory.
func developerManifestNames(id string) []string {
	return []string{
		id + ".yaml",
		id + ".tt.yaml",
		filepath.Join(id, "manifest.yaml"),
	}
}

func (d *Downloader) developerDirs(id string) []string {
	if d.prefs == nil || strings.ContainsAny(id, `/\`) || id == ".." {
		return nil
	}
	dirs := d.prefs.Strings(prefs.KeyDeveloperDirs)
	if len(dirs) == 0 || !d.developerAllowed(id) {
		return nil
	}
	return dirs
}

// developerAllowed reports whether id matches the developer-patterns
// preference. No patterns allow every id.
func (d *Downloader) developerAllowed(id string) bool {
	patterns := d.prefs.Strings(prefs.KeyDeveloperPatterns)
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			d.logger.Warn("invalid developer pattern", "pattern", pattern, "error", err)
			continue
		}
		if g.Match(id) {
			return true
		}
	}
	return false
}

// developerManifest returns the developer override of id, or nil when there
// is none. Overrides are never cached.
func (d *Downloader) developerManifest(ctx context.Context, id string) (*schema.ClassDef, error) {
	for _, dir := range d.developerDirs(id) {
		for _, name := range developerManifestNames(id) {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path) //nolint:gosec // developer directories are configured by the user
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, oops.In("module").With("module", id).With("path", path).Wrapf(err, "read developer manifest")
			}
			def, err := d.parser.Parse(string(data))
			if err != nil {
				return nil, oops.In("module").With("module", id).With("path", path).Wrapf(err, "parse developer manifest")
			}
			def.Version = schema.DeveloperVersion
			d.backfill(ctx, id, def)
			d.metrics.RecordManifest(observability.CacheDeveloper)
			d.logger.Info("using developer manifest", "module", id, "path", path)
			return def, nil
		}
	}
	return nil, nil
}

// backfill copies config parameters the developer manifest leaves out from
// the published manifest, when the catalog is reachable.
func (d *Downloader) backfill(ctx context.Context, id string, def *schema.ClassDef) {
	text, err := d.catalog.GetSchemas(ctx, []string{id}, true)
	if err != nil {
		d.logger.Debug("published manifest unavailable for developer override", "module", id, "error", err)
		return
	}
	for doc := range strings.SplitSeq(text, catalog.DocumentSeparator) {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		published, err := d.parser.Parse(doc)
		if err != nil {
			d.logger.Debug("unparsable published manifest", "module", id, "error", err)
			return
		}
		if published.Kind == def.Kind {
			def.BackfillConfig(published)
			return
		}
	}
}

// developerCodeDir returns the developer directory holding the code of id,
// or "" when there is none.
func (d *Downloader) developerCodeDir(id string) string {
	for _, dir := range d.developerDirs(id) {
		candidate := filepath.Join(dir, id)
		if _, err := os.Stat(filepath.Join(candidate, PackageFile)); err == nil {
			return candidate
		}
	}
	return ""
}
