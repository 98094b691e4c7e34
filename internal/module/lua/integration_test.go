// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package lua_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/devicekit/internal/cache"
	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/internal/module"
	modlua "github.com/holomush/devicekit/internal/module/lua"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

const meterID = "com.example.meter"

func meterManifest(version int) string {
	return fmt.Sprintf(`
kind: com.example.meter
version: %d
loader:
  type: org.thingpedia.v2
queries:
  reading:
    poll_interval: 5m
actions:
  reset: {}
`, version)
}

func meterCode(watts int) string {
	return fmt.Sprintf(`
function get_reading(params)
  return { { watts = %d } }
end

function do_reset(params)
  state_set("reset", true)
  return { ok = true }
end
`, watts)
}

func meterPackage(version int) string {
	return fmt.Sprintf("name: com.example.meter\nversion: %d\nsdk: \"^1.0.0\"\nruntime: lua\nentry: main.lua\n", version)
}

// catalogServer publishes one module over the catalog HTTP API.
type catalogServer struct {
	server *httptest.Server

	mu       sync.Mutex
	manifest string
	archive  []byte
	hits     map[string]int
}

func newCatalogServer() *catalogServer {
	c := &catalogServer{hits: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/code/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.count("code")
		if r.PathValue("id") != meterID {
			http.NotFound(w, r)
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		_, _ = w.Write([]byte(c.manifest))
	})
	mux.HandleFunc("/devices/package/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.count("package")
		http.Redirect(w, r, "/archives/"+r.PathValue("id")+".zip", http.StatusFound)
	})
	mux.HandleFunc("/archives/{name}", func(w http.ResponseWriter, _ *http.Request) {
		c.count("archive")
		c.mu.Lock()
		defer c.mu.Unlock()
		_, _ = w.Write(c.archive)
	})
	c.server = httptest.NewServer(mux)
	return c
}

func (c *catalogServer) count(endpoint string) {
	c.mu.Lock()
	c.hits[endpoint]++
	c.mu.Unlock()
}

func (c *catalogServer) requests(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[endpoint]
}

func (c *catalogServer) publish(version, watts int) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"main.lua":         meterCode(watts),
		module.PackageFile: meterPackage(version),
	} {
		w, err := zw.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = w.Write([]byte(body))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(zw.Close()).To(Succeed())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifest = meterManifest(version)
	c.archive = buf.Bytes()
}

var _ = Describe("Lua modules served by an HTTP catalog", func() {
	var (
		ctx      context.Context
		server   *catalogServer
		cacheDir string
	)

	newDownloader := func() (*module.Downloader, *modlua.Runtime) {
		cat, err := catalog.NewHTTPCatalog(server.server.URL, httpclient.New(), catalog.WithRetries(0, time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		rt := modlua.New()
		return module.NewDownloader(cat, cache.New(cacheDir), module.WithRuntime(rt)), rt
	}

	reading := func(d *module.Downloader) device.Result {
		m, err := d.GetModule(ctx, meterID)
		Expect(err).NotTo(HaveOccurred())
		class, err := m.GetDeviceClass(ctx)
		Expect(err).NotTo(HaveOccurred())
		dev, err := class.New(ctx, device.StaticEngine("http://127.0.0.1"), nil)
		Expect(err).NotTo(HaveOccurred())
		results, err := dev.Query(ctx, "reading", nil)
		Expect(err).NotTo(HaveOccurred())
		all := slices.Collect(results)
		Expect(all).To(HaveLen(1))
		return all[0]
	}

	BeforeEach(func() {
		ctx = context.Background()
		server = newCatalogServer()
		DeferCleanup(server.server.Close)
		cacheDir = GinkgoT().TempDir()
		server.publish(1, 100)
	})

	It("downloads, unpacks and runs the module", func() {
		d, rt := newDownloader()
		defer d.Close()

		Expect(reading(d)).To(Equal(device.Result{"watts": int64(100)}))
		Expect(server.requests("archive")).To(Equal(1))
		Expect(rt.Loaded()).To(HaveLen(1))
	})

	It("reuses the installed module from a fresh downloader", func() {
		first, _ := newDownloader()
		Expect(reading(first)).To(HaveKeyWithValue("watts", int64(100)))
		first.Close()

		second, _ := newDownloader()
		defer second.Close()
		Expect(reading(second)).To(HaveKeyWithValue("watts", int64(100)))

		Expect(server.requests("code")).To(Equal(1))
		Expect(server.requests("archive")).To(Equal(1))
	})

	It("installs the new version on update", func() {
		d, _ := newDownloader()
		defer d.Close()
		Expect(reading(d)).To(HaveKeyWithValue("watts", int64(100)))

		server.publish(2, 250)
		Expect(d.UpdateModule(ctx, meterID)).To(Succeed())

		m, err := d.GetModule(ctx, meterID)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Version()).To(Equal(2))
		Expect(reading(d)).To(HaveKeyWithValue("watts", int64(250)))
		Expect(server.requests("archive")).To(Equal(2))
	})

	It("synthesizes a polling subscription for monitorable queries", func() {
		d, _ := newDownloader()
		defer d.Close()

		m, err := d.GetModule(ctx, meterID)
		Expect(err).NotTo(HaveOccurred())
		class, err := m.GetDeviceClass(ctx)
		Expect(err).NotTo(HaveOccurred())
		dev, err := class.New(ctx, device.StaticEngine("http://127.0.0.1"), nil)
		Expect(err).NotTo(HaveOccurred())

		stream, err := dev.Subscribe(ctx, "reading", nil)
		Expect(err).NotTo(HaveOccurred())
		defer stream.Destroy()

		var ev device.Event
		Eventually(stream.Events()).WithTimeout(5 * time.Second).Should(Receive(&ev))
		Expect(ev.Err).NotTo(HaveOccurred())
		Expect(ev.Result).To(HaveKeyWithValue("watts", int64(100)))
	})

	It("reports modules the catalog does not know", func() {
		d, _ := newDownloader()
		defer d.Close()

		_, err := d.GetModule(ctx, "com.example.unknown")
		Expect(err).To(HaveOccurred())
		Expect(errutil.IsNotFound(err)).To(BeTrue())
	})
})
