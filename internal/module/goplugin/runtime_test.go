// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/module/goplugin"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/devicesdk"
)

// fakeProtocol dispenses a devicesdk client over an in-memory connection.
type fakeProtocol struct {
	conn     *grpc.ClientConn
	dispense error
}

func (p *fakeProtocol) Close() error { return p.conn.Close() }
func (p *fakeProtocol) Ping() error  { return nil }

func (p *fakeProtocol) Dispense(name string) (interface{}, error) {
	if p.dispense != nil {
		return nil, p.dispense
	}
	if name != devicesdk.PluginName {
		return nil, errors.New("unknown plugin " + name)
	}
	return devicesdk.NewClient(p.conn), nil
}

type fakeClient struct {
	protocol *fakeProtocol
	err      error
	killed   atomic.Bool
	stop     func()

	// entered is closed when Client is called; Client then waits for release.
	entered chan struct{}
	release chan struct{}
}

func (c *fakeClient) Client() (hashiplug.ClientProtocol, error) {
	if c.release != nil {
		close(c.entered)
		<-c.release
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.protocol, nil
}

func (c *fakeClient) Kill() {
	if c.killed.CompareAndSwap(false, true) {
		c.stop()
	}
}

// fakeFactory serves module in-process for every executable.
type fakeFactory struct {
	t           *testing.T
	module      *devicesdk.Module
	clientErr   error
	dispenseErr error

	// hold makes the first client block in Client until it is closed.
	hold    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	started []string
	clients []*fakeClient
}

func (f *fakeFactory) NewClient(execPath string) goplugin.PluginClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, execPath)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	devicesdk.RegisterServer(srv, f.module)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(f.t, err)

	stop := func() {
		_ = conn.Close()
		srv.Stop()
	}
	c := &fakeClient{
		protocol: &fakeProtocol{conn: conn, dispense: f.dispenseErr},
		err:      f.clientErr,
		stop:     stop,
	}
	if f.hold != nil && len(f.clients) == 0 {
		c.entered = f.entered
		c.release = f.hold
	}
	f.t.Cleanup(c.Kill)
	f.clients = append(f.clients, c)
	return c
}

func meterModule() *devicesdk.Module {
	return &devicesdk.Module{
		Functions: map[string]devicesdk.Function{
			"get_reading": func(_ context.Context, params map[string]any) (any, error) {
				return []any{map[string]any{"watts": 120, "phase": params["phase"]}}, nil
			},
			"do_reset": func(context.Context, map[string]any) (any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
		Subdevices: map[string]map[string]devicesdk.Function{
			"com.example.meter.channel": {
				"get_reading": func(context.Context, map[string]any) (any, error) {
					return []any{map[string]any{"watts": 5}}, nil
				},
			},
		},
	}
}

func moduleDir(t *testing.T) (string, *module.Package) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meter"), []byte("#!/bin/true\n"), 0o755))
	return dir, &module.Package{Name: "meter", Version: 1, Runtime: module.RuntimeBinary, Entry: "meter"}
}

func TestRequireExposesModuleFunctions(t *testing.T) {
	factory := &fakeFactory{t: t, module: meterModule()}
	rt := goplugin.New(goplugin.WithClientFactory(factory))
	defer rt.Close()
	dir, pkg := moduleDir(t)

	impl, err := rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	assert.Equal(t, []string{"reading"}, impl.FunctionNames(device.QueryPrefix))
	assert.Equal(t, []string{"reset"}, impl.FunctionNames(device.ActionPrefix))
	require.Contains(t, impl.Subdevices, "com.example.meter.channel")
	assert.Equal(t, module.RuntimeBinary, rt.Name())
	assert.Equal(t, []string{filepath.Join(dir, "meter")}, factory.started)

	get, ok := impl.Function("get_reading")
	require.True(t, ok)
	out, err := get(context.Background(), nil, device.Params{"phase": "L1"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"watts": float64(120), "phase": "L1"}}, out)

	reset, ok := impl.Function("do_reset")
	require.True(t, ok)
	out, err = reset(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, device.Result{"ok": true}, out)

	child, ok := impl.Subdevices["com.example.meter.channel"].Function("get_reading")
	require.True(t, ok)
	out, err = child(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"watts": float64(5)}}, out)
}

func TestRequireStartsOneProcessPerDir(t *testing.T) {
	factory := &fakeFactory{t: t, module: meterModule()}
	rt := goplugin.New(goplugin.WithClientFactory(factory))
	defer rt.Close()
	dir, pkg := moduleDir(t)

	_, err := rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	_, err = rt.Require(context.Background(), dir+string(filepath.Separator), pkg)
	require.NoError(t, err)
	assert.Len(t, factory.started, 1)
	assert.Equal(t, []string{dir}, rt.Running())

	rt.Evict(filepath.Dir(dir))
	assert.Empty(t, rt.Running())
	assert.True(t, factory.clients[0].killed.Load())

	_, err = rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	assert.Len(t, factory.started, 2)
}

func TestRequireFailures(t *testing.T) {
	tests := []struct {
		name        string
		clientErr   error
		dispenseErr error
		entry       string
		want        string
	}{
		{name: "missing executable", entry: "absent", want: "module executable not accessible"},
		{name: "handshake failure", clientErr: errors.New("bad cookie"), want: "connect to module"},
		{name: "dispense failure", dispenseErr: errors.New("no such plugin"), want: "dispense module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &fakeFactory{t: t, module: meterModule(), clientErr: tt.clientErr, dispenseErr: tt.dispenseErr}
			rt := goplugin.New(goplugin.WithClientFactory(factory))
			defer rt.Close()
			dir, pkg := moduleDir(t)
			if tt.entry != "" {
				pkg.Entry = tt.entry
			}

			_, err := rt.Require(context.Background(), dir, pkg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, rt.Running())
			for _, c := range factory.clients {
				assert.True(t, c.killed.Load())
			}
		})
	}
}

func TestFunctionErrorsPropagate(t *testing.T) {
	mod := &devicesdk.Module{Functions: map[string]devicesdk.Function{
		"do_fail": func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("relay stuck")
		},
	}}
	rt := goplugin.New(goplugin.WithClientFactory(&fakeFactory{t: t, module: mod}))
	defer rt.Close()
	dir, pkg := moduleDir(t)

	impl, err := rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	fn, ok := impl.Function("do_fail")
	require.True(t, ok)
	_, err = fn(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay stuck")
}

func TestClosedRuntimeRefusesRequire(t *testing.T) {
	factory := &fakeFactory{t: t, module: meterModule()}
	rt := goplugin.New(goplugin.WithClientFactory(factory))
	dir, pkg := moduleDir(t)

	_, err := rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	rt.Close()
	assert.True(t, factory.clients[0].killed.Load())

	_, err = rt.Require(context.Background(), dir, pkg)
	assert.ErrorIs(t, err, goplugin.ErrRuntimeClosed)
}

func TestRequireStartsProcessesOutsideTheLock(t *testing.T) {
	factory := &fakeFactory{
		t:       t,
		module:  meterModule(),
		hold:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	rt := goplugin.New(goplugin.WithClientFactory(factory))
	defer rt.Close()
	dir, pkg := moduleDir(t)
	ctx := context.Background()

	type result struct {
		impl *device.Implementation
		err  error
	}
	slow := make(chan result, 1)
	go func() {
		impl, err := rt.Require(ctx, dir, pkg)
		slow <- result{impl, err}
	}()
	<-factory.entered

	// The first start is still connecting; a second caller is not blocked by it.
	fast, err := rt.Require(ctx, dir, pkg)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, rt.Running())

	close(factory.hold)
	got := <-slow
	require.NoError(t, got.err)
	assert.Same(t, fast, got.impl)
	assert.Equal(t, []string{dir}, rt.Running())

	factory.mu.Lock()
	defer factory.mu.Unlock()
	require.Len(t, factory.clients, 2)
	assert.True(t, factory.clients[0].killed.Load(), "losing process is killed")
	assert.False(t, factory.clients[1].killed.Load())
}

func TestListResultsKeepEveryItem(t *testing.T) {
	mod := &devicesdk.Module{Functions: map[string]devicesdk.Function{
		"get_mixed": func(context.Context, map[string]any) (any, error) {
			return []any{1, "two", map[string]any{"ok": true}}, nil
		},
	}}
	rt := goplugin.New(goplugin.WithClientFactory(&fakeFactory{t: t, module: mod}))
	defer rt.Close()
	dir, pkg := moduleDir(t)

	impl, err := rt.Require(context.Background(), dir, pkg)
	require.NoError(t, err)
	fn, ok := impl.Function("get_mixed")
	require.True(t, ok)
	out, err := fn(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "two", map[string]any{"ok": true}}, out)
}
