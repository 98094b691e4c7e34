// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin provides a module runtime for binary device modules
// using HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/devicesdk"
)

// DefaultCallTimeout bounds a single function call into a module process.
const DefaultCallTimeout = 30 * time.Second

// ErrRuntimeClosed is returned when loading code after Close.
var ErrRuntimeClosed = errors.New("runtime is closed")

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	devicesdk.PluginName: &devicesdk.GRPCPlugin{},
}

var _ module.Runtime = (*Runtime)(nil)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the module process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  devicesdk.HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath is the validated package entry
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
	})
}

// process is a running module.
type process struct {
	name   string
	client PluginClient
	impl   *device.Implementation
}

// Runtime runs binary modules, one process per module directory.
type Runtime struct {
	factory     ClientFactory
	logger      *slog.Logger
	callTimeout time.Duration

	mu        sync.Mutex
	processes map[string]*process
	closed    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the go-plugin client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) { r.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithCallTimeout bounds each function call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.callTimeout = d }
}

// New creates a binary module runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		factory:     &DefaultClientFactory{},
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		processes:   make(map[string]*process),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return r
}

// Name implements module.Runtime.
func (r *Runtime) Name() string { return module.RuntimeBinary }

// Require implements module.Runtime. It starts the module process once per
// directory. Processes start outside the lock; a process that loses the race
// for its directory is killed.
func (r *Runtime) Require(ctx context.Context, dir string, pkg *module.Package) (*device.Implementation, error) {
	key := filepath.Clean(dir)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	}
	if p, ok := r.processes[key]; ok {
		r.mu.Unlock()
		return p.impl, nil
	}
	r.mu.Unlock()

	p, err := r.start(ctx, key, pkg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		p.client.Kill()
		return nil, ErrRuntimeClosed
	}
	if existing, ok := r.processes[key]; ok {
		p.client.Kill()
		return existing.impl, nil
	}
	r.processes[key] = p
	r.logger.Debug("module process started", "package", pkg.Name, "dir", key)
	return p.impl, nil
}

// start launches the module process in dir and describes its functions.
func (r *Runtime) start(ctx context.Context, key string, pkg *module.Package) (*process, error) {
	errb := oops.In("goplugin").With("package", pkg.Name).With("dir", key)
	execPath := pkg.EntryPath(key)
	if _, err := os.Stat(execPath); err != nil {
		return nil, errb.With("entry", pkg.Entry).Wrapf(err, "module executable not accessible")
	}

	client := r.factory.NewClient(execPath)
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "connect to module")
	}
	raw, err := rpcClient.Dispense(devicesdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "dispense module")
	}
	sdk, ok := raw.(*devicesdk.Client)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("module does not serve the device service, got %T", raw)
	}

	describeCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	desc, err := sdk.Describe(describeCtx)
	if err != nil {
		client.Kill()
		return nil, errb.Wrapf(err, "describe module")
	}

	impl := r.implementation(pkg.Name, sdk, "", desc.Functions)
	if len(desc.Subdevices) > 0 {
		impl.Subdevices = make(map[string]*device.Implementation, len(desc.Subdevices))
		for kind, names := range desc.Subdevices {
			impl.Subdevices[kind] = r.implementation(pkg.Name, sdk, kind, names)
		}
	}

	return &process{name: pkg.Name, client: client, impl: impl}, nil
}

func (r *Runtime) implementation(name string, sdk *devicesdk.Client, subdevice string, functions []string) *device.Implementation {
	impl := &device.Implementation{Functions: make(map[string]device.RawFunc, len(functions))}
	for _, fn := range functions {
		impl.Functions[fn] = r.function(name, sdk, subdevice, fn)
	}
	return impl
}

func (r *Runtime) function(name string, sdk *devicesdk.Client, subdevice, fn string) device.RawFunc {
	return func(ctx context.Context, _ *device.Device, params device.Params) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		out, err := sdk.Invoke(ctx, subdevice, fn, devicesdk.Plain(map[string]any(params)).(map[string]any))
		if err != nil {
			return nil, oops.In("goplugin").With("package", name).Wrapf(err, "call %s", fn)
		}
		return toResult(out), nil
	}
}

// toResult maps decoded objects onto results. Lists pass through unchanged
// so composition checks the shape of every item.
func toResult(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return device.Result(val)
	default:
		return val
	}
}

// Evict implements module.Runtime. It kills the processes started from
// directories under prefix.
func (r *Runtime) Evict(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dir, p := range r.processes {
		if module.UnderPrefix(dir, prefix) {
			p.client.Kill()
			delete(r.processes, dir)
			r.logger.Debug("module process stopped", "package", p.name, "dir", dir)
		}
	}
}

// Running lists the directories with a running module process.
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirs := make([]string, 0, len(r.processes))
	for dir := range r.processes {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return dirs
}

// Close kills every module process. Require fails afterwards.
func (r *Runtime) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Evict("")
}
