// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package builtins provides the device modules that ship with devicekit:
// their manifests, translations and in-process implementations.
package builtins

import (
	"embed"
	"io/fs"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/i18n"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// Module ids.
const (
	ClockID = "com.devicekit.clock"
	HTTPID  = "com.devicekit.http"
)

// Domain is the translation domain of the builtin manifests.
const Domain = "devicekit-builtins"

//go:embed manifests/*.yaml locales/*/*.yaml
var files embed.FS

// Manifest returns the embedded manifest text of id.
func Manifest(id string) (string, error) {
	data, err := files.ReadFile("manifests/" + id + ".yaml")
	if err != nil {
		return "", oops.In("builtins").Code(errutil.CodeNotFound).With("module", id).Errorf("no builtin manifest for %s", id)
	}
	return string(data), nil
}

// IDs lists the builtin module ids.
func IDs() []string {
	entries, err := fs.ReadDir(files, "manifests")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	slices.Sort(ids)
	return ids
}

// Translations loads the embedded translation catalogs.
func Translations() (*i18n.Catalog, error) {
	return i18n.Load(files)
}

// Implementations returns the builtin implementations keyed by module id.
func Implementations(client *httpclient.Client, opts ...Option) map[string]*device.Implementation {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return map[string]*device.Implementation{
		ClockID: clock(o),
		HTTPID:  web(client, o),
	}
}
