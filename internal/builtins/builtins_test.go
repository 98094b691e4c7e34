// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/holomush/devicekit/internal/builtins"
	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func downloader(t *testing.T, locale language.Tag, next catalog.Catalog) *module.Downloader {
	t.Helper()
	translations, err := builtins.Translations()
	require.NoError(t, err)
	d := module.NewDownloader(builtins.NewCatalog(next), cache.New(t.TempDir()),
		module.WithBuiltins(builtins.Implementations(httpclient.New(),
			builtins.WithClock(func() time.Time { return fixedNow }),
			builtins.WithRandom(func() float64 { return 0.25 }))),
		module.WithTranslator(func(domain string) func(string) string {
			return translations.Gettext(locale, domain)
		}))
	t.Cleanup(d.Close)
	return d
}

func class(t *testing.T, d *module.Downloader, id string) *device.Class {
	t.Helper()
	m, err := d.GetModule(context.Background(), id)
	require.NoError(t, err)
	c, err := m.GetDeviceClass(context.Background())
	require.NoError(t, err)
	return c
}

func newDevice(t *testing.T, c *device.Class) *device.Device {
	t.Helper()
	dev, err := c.New(context.Background(), device.StaticEngine("http://127.0.0.1"), nil)
	require.NoError(t, err)
	return dev
}

func TestManifestsParse(t *testing.T) {
	ids := builtins.IDs()
	assert.Equal(t, []string{builtins.ClockID, builtins.HTTPID}, ids)
	for _, id := range ids {
		text, err := builtins.Manifest(id)
		require.NoError(t, err)
		def, err := schema.YAMLParser{}.Parse(text)
		require.NoError(t, err, id)
		assert.Equal(t, id, def.Kind)
		assert.Equal(t, schema.LoaderBuiltin, def.LoaderType())
		assert.Equal(t, builtins.Domain, def.Metadata.Domain)
	}
}

func TestUnknownManifestIsNotFound(t *testing.T) {
	_, err := builtins.Manifest("com.example.none")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
}

func TestClockThroughDownloader(t *testing.T) {
	c := class(t, downloader(t, language.English, nil), builtins.ClockID)
	assert.Equal(t, "Clock", c.Metadata.Name)
	assert.Equal(t, []string{"now"}, c.QueryNames())
	assert.Equal(t, []string{"alarm"}, c.ActionNames())

	dev := newDevice(t, c)
	seq, err := dev.Query(context.Background(), "now", device.Params{"timezone": "Europe/Rome"})
	require.NoError(t, err)
	results := slices.Collect(seq)
	require.Len(t, results, 1)
	assert.Equal(t, "2026-03-14T16:09:26+01:00", results[0]["time"])
	assert.Equal(t, "Europe/Rome", results[0]["timezone"])

	_, err = dev.Query(context.Background(), "now", device.Params{"timezone": "Mars/Olympus"})
	require.Error(t, err)

	out, err := dev.Invoke(context.Background(), "alarm", device.Params{"at": "2026-03-15T07:00:00+01:00"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15T06:00:00Z", out["alarm"])
	assert.Equal(t, "2026-03-15T06:00:00Z", dev.State().String("alarm"))
	assert.Equal(t, device.AvailabilityAvailable, dev.CheckAvailable(context.Background()))
}

func TestTranslatedMetadata(t *testing.T) {
	tests := []struct {
		locale language.Tag
		name   string
		doc    string
	}{
		{language.French, "Horloge", "l'heure actuelle"},
		{language.Italian, "Orologio", "l'ora attuale"},
		{language.German, "Clock", "the current time"},
	}
	for _, tt := range tests {
		t.Run(tt.locale.String(), func(t *testing.T) {
			c := class(t, downloader(t, tt.locale, nil), builtins.ClockID)
			assert.Equal(t, tt.name, c.Metadata.Name)
			assert.Equal(t, tt.doc, c.Metadata.Docs["now"])
		})
	}
}

func TestHTTPFetchAndPost(t *testing.T) {
	var posted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			posted = string(body)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)

	dev := newDevice(t, class(t, downloader(t, language.English, nil), builtins.HTTPID))

	seq, err := dev.Query(context.Background(), "fetch", device.Params{"url": srv.URL + "/page"})
	require.NoError(t, err)
	results := slices.Collect(seq)
	require.Len(t, results, 1)
	assert.Equal(t, http.StatusOK, results[0]["status"])
	assert.Equal(t, "hello", results[0]["text"])
	assert.Equal(t, 5, results[0]["size"])
	assert.Equal(t, "text/plain", results[0]["content_type"])

	out, err := dev.Invoke(context.Background(), "post", device.Params{"url": srv.URL, "body": "ping"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out["status"])
	assert.Equal(t, "ping", posted)

	_, err = dev.Query(context.Background(), "fetch", nil)
	require.Error(t, err)

	seq, err = dev.Query(context.Background(), "random", nil)
	require.NoError(t, err)
	assert.Equal(t, []device.Result{{"number": 0.25}}, slices.Collect(seq))
}

func TestRandomIsNotMonitorable(t *testing.T) {
	dev := newDevice(t, class(t, downloader(t, language.English, nil), builtins.HTTPID))
	_, err := dev.Subscribe(context.Background(), "random", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeNotMonitorable)
}

func TestCatalogDelegatesOtherIDs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeManifest(dir, "com.example.other", `
kind: com.example.other
version: 2
loader:
  type: org.thingpedia.builtin
`))
	cat := builtins.NewCatalog(catalog.NewDirCatalog(dir))

	text, err := cat.GetDeviceCode(context.Background(), "com.example.other")
	require.NoError(t, err)
	assert.Contains(t, text, "com.example.other")

	schemas, err := cat.GetSchemas(context.Background(), []string{builtins.ClockID, "com.example.other"}, true)
	require.NoError(t, err)
	assert.Contains(t, schemas, "kind: com.devicekit.clock")
	assert.Contains(t, schemas, catalog.DocumentSeparator+"kind: com.example.other")

	_, err = cat.GetModuleLocation(context.Background(), builtins.ClockID)
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)

	_, err = builtins.NewCatalog(nil).GetDeviceCode(context.Background(), "com.example.other")
	errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
}
