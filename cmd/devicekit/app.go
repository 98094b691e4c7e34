// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/holomush/devicekit/internal/builtins"
	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/internal/config"
	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/logging"
	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/module/goplugin"
	"github.com/holomush/devicekit/internal/module/lua"
	"github.com/holomush/devicekit/internal/oauth"
	"github.com/holomush/devicekit/internal/observability"
	"github.com/holomush/devicekit/internal/prefs"
	"github.com/holomush/devicekit/internal/xdg"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// Preference keys written by the CLI.
const (
	deviceKeyPrefix = "device."
	sessionKey      = "oauth-session"
)

// app is the loader stack assembled from the configuration.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     device.Engine
	prefs      *prefs.Store
	downloader *module.Downloader
	flow       *oauth.Flow
}

// loadConfig reads configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "devicekit",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

// setup loads the configuration and builds the app. metrics may be nil.
func setup(cmd *cobra.Command, metrics *observability.Metrics) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger, metrics)
}

func newApp(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	client := httpclient.New(httpclient.WithLogger(logger))

	var next catalog.Catalog
	if cfg.CatalogURL != "" {
		remote, err := catalog.NewHTTPCatalog(cfg.CatalogURL, client,
			catalog.WithDeveloperKey(cfg.DeveloperKey),
			catalog.WithRetries(cfg.CatalogRetries, cfg.RetryBackoff))
		if err != nil {
			return nil, err
		}
		next = remote
	} else {
		next = catalog.NewDirCatalog(cfg.CatalogDir)
	}

	storeOpts := []cache.Option{cache.WithTTL(cfg.ManifestTTL)}
	if cfg.SDKDir != "" {
		if err := xdg.EnsureDir(cfg.SDKDir); err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, cache.WithSDKDir(cfg.SDKDir))
	}
	store := cache.New(cfg.CacheDir, storeOpts...)
	p, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		return nil, err
	}
	translations, err := builtins.Translations()
	if err != nil {
		return nil, err
	}
	locale, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, oops.In("config").With("locale", cfg.Locale).Wrapf(err, "invalid locale")
	}

	flow := oauth.NewFlow(oauth.WithLogger(logger), oauth.WithMetrics(metrics))
	opts := []module.Option{
		module.WithPrefs(p),
		module.WithBuiltins(builtins.Implementations(client)),
		module.WithTranslator(func(domain string) func(string) string {
			return translations.Gettext(locale, domain)
		}),
		module.WithDecorator(flow.Decorator()),
		module.WithHTTPClient(client),
		module.WithMetrics(metrics),
		module.WithLogger(logger),
	}
	if cfg.HasRuntime(module.RuntimeLua) {
		opts = append(opts, module.WithRuntime(lua.New(lua.WithLogger(logger))))
	}
	if cfg.HasRuntime(module.RuntimeBinary) {
		opts = append(opts, module.WithRuntime(goplugin.New(goplugin.WithLogger(logger))))
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		engine:     device.StaticEngine(cfg.Origin),
		prefs:      p,
		downloader: module.NewDownloader(builtins.NewCatalog(next), store, opts...),
		flow:       flow,
	}, nil
}

// Close stops every runtime process started by the app.
func (a *app) Close() {
	a.downloader.Close()
}

// class resolves the module id and composes its class.
func (a *app) class(ctx context.Context, id string) (module.Module, *device.Class, error) {
	m, err := a.downloader.GetModule(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	class, err := m.GetDeviceClass(ctx)
	if err != nil {
		return nil, nil, err
	}
	return m, class, nil
}

// device constructs a device of the module id around its saved state. State
// changes are written back to the preferences.
func (a *app) device(ctx context.Context, id string) (*device.Device, error) {
	_, class, err := a.class(ctx, id)
	if err != nil {
		return nil, err
	}
	saved, _ := a.prefs.Get(deviceKeyPrefix + class.Kind())
	values, _ := saved.(map[string]any)
	d, err := class.New(ctx, a.engine, device.NewState(values))
	if err != nil {
		return nil, err
	}
	a.persist(d)
	return d, nil
}

// persist saves the device state now and whenever it changes.
func (a *app) persist(d *device.Device) {
	save := func(s *device.State) {
		if err := a.prefs.Set(deviceKeyPrefix+d.Kind(), s.Snapshot()); err != nil {
			errutil.LogWarn(a.logger.With("kind", d.Kind()), "failed to save device state", err)
		}
	}
	d.State().OnChange(save)
	save(d.State())
}

// session returns the persisted OAuth2 session.
func (a *app) session() oauth.Session {
	return oauth.Session(a.prefs.StringMap(sessionKey))
}

func (a *app) saveSession(s oauth.Session) error {
	return a.prefs.Set(sessionKey, map[string]string(s))
}
