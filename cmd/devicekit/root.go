// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/devicekit/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the devicekit CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devicekit",
		Short: "devicekit - device module loader",
		Long: `devicekit resolves device modules from a catalog, caches their manifests
and code, and composes device classes that can be queried, invoked and
monitored.`,
		SilenceUsage: true,
	}

	def := config.Default()
	pf := cmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/devicekit/config.yaml)")
	pf.String("log-format", def.LogFormat, "log format (json or text)")
	pf.String("log-level", def.LogLevel, "log level (debug, info, warn or error)")
	pf.String("cache-dir", "", "cache directory (default: XDG_CACHE_HOME/devicekit)")
	pf.String("prefs-file", "", "preferences file (default: XDG_STATE_HOME/devicekit/prefs.yaml)")
	pf.Duration("manifest-ttl", def.ManifestTTL, "how long a cached manifest stays fresh")
	pf.String("sdk-dir", "", "shared SDK directory linked into installed modules (default: XDG_DATA_HOME/devicekit/sdk)")
	pf.String("catalog-url", "", "base URL of the remote catalog")
	pf.String("catalog-dir", "", "directory holding a local catalog")
	pf.String("developer-key", "", "developer key for unpublished modules")
	pf.StringSlice("runtimes", def.Runtimes, "enabled code runtimes (lua, binary)")
	pf.String("origin", def.Origin, "engine origin used for OAuth2 redirects")
	pf.String("locale", def.Locale, "locale of builtin module strings")

	cmd.AddCommand(NewGetCmd())
	cmd.AddCommand(NewUpdateCmd())
	cmd.AddCommand(NewInvokeCmd())
	cmd.AddCommand(NewMonitorCmd())
	cmd.AddCommand(NewOAuthCmd())
	cmd.AddCommand(NewCacheCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
