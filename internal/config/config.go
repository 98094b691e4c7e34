// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads devicekit configuration from defaults, a YAML file
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/internal/logging"
	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/xdg"
)

// Config is the devicekit configuration.
type Config struct {
	LogFormat string `koanf:"log_format"`
	LogLevel  string `koanf:"log_level"`

	// CacheDir holds the manifest cache and installed modules.
	CacheDir string `koanf:"cache_dir"`
	// PrefsFile is the preferences store.
	PrefsFile   string        `koanf:"prefs_file"`
	ManifestTTL time.Duration `koanf:"manifest_ttl"`
	// SDKDir is the shared SDK directory linked into the modules layout.
	// Empty disables the link.
	SDKDir string `koanf:"sdk_dir"`

	CatalogURL     string        `koanf:"catalog_url"`
	CatalogDir     string        `koanf:"catalog_dir"`
	DeveloperKey   string        `koanf:"developer_key"`
	CatalogRetries uint64        `koanf:"catalog_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`

	// Runtimes lists the code runtimes enabled for on-disk modules.
	Runtimes []string `koanf:"runtimes"`
	// Origin is the engine's externally reachable base URL.
	Origin      string `koanf:"origin"`
	MetricsAddr string `koanf:"metrics_addr"`
	Locale      string `koanf:"locale"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogFormat:      logging.FormatText,
		LogLevel:       "info",
		CacheDir:       xdg.CacheDir(),
		PrefsFile:      filepath.Join(xdg.StateDir(), "prefs.yaml"),
		ManifestTTL:    cache.DefaultTTL,
		SDKDir:         filepath.Join(xdg.DataDir(), "sdk"),
		CatalogRetries: 3,
		RetryBackoff:   500 * time.Millisecond,
		Runtimes:       []string{module.RuntimeLua, module.RuntimeBinary},
		Origin:         "http://127.0.0.1:3000",
		MetricsAddr:    "127.0.0.1:9100",
		Locale:         "en",
	}
}

// defaults flattens Default into koanf keys.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"log_format":      d.LogFormat,
		"log_level":       d.LogLevel,
		"cache_dir":       d.CacheDir,
		"prefs_file":      d.PrefsFile,
		"manifest_ttl":    d.ManifestTTL,
		"sdk_dir":         d.SDKDir,
		"catalog_retries": d.CatalogRetries,
		"retry_backoff":   d.RetryBackoff,
		"runtimes":        d.Runtimes,
		"origin":          d.Origin,
		"metrics_addr":    d.MetricsAddr,
		"locale":          d.Locale,
	}
}

// Load builds the configuration. path names the YAML file; when empty the
// XDG config file is used if it exists. Only flags the user changed
// override file values; flag names map to keys by replacing '-' with '_'.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Wrapf(err, "load config file")
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("config").With("path", path).Wrapf(err, "stat config file")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Wrapf(err, "decode config")
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatText {
		return errb.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.CacheDir == "" {
		return errb.Errorf("cache_dir is required")
	}
	if c.ManifestTTL <= 0 {
		return errb.Errorf("manifest_ttl must be positive, got %s", c.ManifestTTL)
	}
	if c.CatalogURL == "" && c.CatalogDir == "" {
		return errb.Hint("set catalog_url or catalog_dir").Errorf("no catalog configured")
	}
	if c.CatalogURL != "" {
		if err := checkURL(c.CatalogURL); err != nil {
			return errb.With("catalog_url", c.CatalogURL).Wrapf(err, "invalid catalog_url")
		}
	}
	if err := checkURL(c.Origin); err != nil {
		return errb.With("origin", c.Origin).Wrapf(err, "invalid origin")
	}
	for _, rt := range c.Runtimes {
		if !slices.Contains([]string{module.RuntimeLua, module.RuntimeBinary}, rt) {
			return errb.Errorf("unknown runtime %q", rt)
		}
	}
	return nil
}

// HasRuntime reports whether the named runtime is enabled.
func (c *Config) HasRuntime(name string) bool {
	return slices.Contains(c.Runtimes, name)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return oops.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return oops.Errorf("host is required")
	}
	return nil
}
