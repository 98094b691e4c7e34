// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/pkg/device"
)

// Globals a module script may define besides its device functions.
const (
	// GlobalSubdevices maps child kinds to tables of device functions.
	GlobalSubdevices = "subdevices"
	// GlobalInit runs when a device is constructed.
	GlobalInit = "init"
)

var _ module.Runtime = (*Runtime)(nil)

// script is a compiled module entry.
type script struct {
	name  string
	dir   string
	proto *lua.FunctionProto
	impl  *device.Implementation
}

// Runtime loads Lua modules. Each entry is compiled once per install
// directory; every call runs in a fresh sandboxed state.
type Runtime struct {
	factory *StateFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	scripts map[string]*script
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger module code logs through.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New creates a Lua runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		factory: NewStateFactory(),
		logger:  slog.Default(),
		scripts: make(map[string]*script),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements module.Runtime.
func (r *Runtime) Name() string { return module.RuntimeLua }

// Require implements module.Runtime.
func (r *Runtime) Require(ctx context.Context, dir string, pkg *module.Package) (*device.Implementation, error) {
	key := filepath.Clean(dir)
	r.mu.RLock()
	s, ok := r.scripts[key]
	r.mu.RUnlock()
	if ok {
		return s.impl, nil
	}

	s, err := r.compile(ctx, key, pkg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.scripts[key]; ok {
		return existing.impl, nil
	}
	r.scripts[key] = s
	return s.impl, nil
}

// Evict implements module.Runtime.
func (r *Runtime) Evict(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dir := range r.scripts {
		if module.UnderPrefix(dir, prefix) {
			delete(r.scripts, dir)
		}
	}
}

// Loaded lists the directories with compiled code.
func (r *Runtime) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dirs := make([]string, 0, len(r.scripts))
	for dir := range r.scripts {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return dirs
}

func (r *Runtime) compile(ctx context.Context, dir string, pkg *module.Package) (*script, error) {
	errb := oops.In("lua").With("package", pkg.Name).With("dir", dir)
	entry := pkg.EntryPath(dir)
	code, err := os.ReadFile(entry) //nolint:gosec // entry is validated to stay inside dir
	if err != nil {
		return nil, errb.With("entry", pkg.Entry).Wrapf(err, "read entry")
	}
	chunk, err := parse.Parse(strings.NewReader(string(code)), pkg.Entry)
	if err != nil {
		return nil, errb.With("entry", pkg.Entry).Hint("syntax error").Wrapf(err, "parse entry")
	}
	proto, err := lua.Compile(chunk, pkg.Entry)
	if err != nil {
		return nil, errb.With("entry", pkg.Entry).Wrapf(err, "compile entry")
	}

	s := &script{name: pkg.Name, dir: dir, proto: proto}

	// Run the chunk once to discover what it defines.
	L, err := r.load(ctx, s, nil)
	if err != nil {
		return nil, err
	}
	defer L.Close()

	s.impl = r.implementation(s, L.G.Global, nil)
	if subs, ok := L.GetGlobal(GlobalSubdevices).(*lua.LTable); ok {
		s.impl.Subdevices = make(map[string]*device.Implementation)
		subs.ForEach(func(k, v lua.LValue) {
			table, ok := v.(*lua.LTable)
			if !ok {
				r.logger.Warn("ignoring non-table subdevice entry",
					"package", pkg.Name,
					"subdevice", k.String())
				return
			}
			kind := k.String()
			s.impl.Subdevices[kind] = r.implementation(s, table, &kind)
		})
	}
	return s, nil
}

// implementation exposes the get_ and do_ functions found in table. child
// names the subdevice table the functions are looked up in.
func (r *Runtime) implementation(s *script, table *lua.LTable, child *string) *device.Implementation {
	impl := &device.Implementation{Functions: make(map[string]device.RawFunc)}
	for _, name := range functionNames(table) {
		switch {
		case strings.HasPrefix(name, device.QueryPrefix), strings.HasPrefix(name, device.ActionPrefix):
			impl.Functions[name] = r.function(s, child, name)
		case strings.HasPrefix(name, device.SubscribePrefix):
			r.logger.Debug("lua modules cannot push events, ignoring",
				"package", s.name,
				"function", name)
		}
	}
	if child == nil && table.RawGetString(GlobalInit).Type() == lua.LTFunction {
		initFn := r.function(s, nil, GlobalInit)
		impl.Init = func(ctx context.Context, d *device.Device) error {
			_, err := initFn(ctx, d, nil)
			return err
		}
	}
	return impl
}

func (r *Runtime) function(s *script, child *string, name string) device.RawFunc {
	return func(ctx context.Context, d *device.Device, params device.Params) (any, error) {
		errb := oops.In("lua").With("package", s.name).With("function", name)
		L, err := r.load(ctx, s, d)
		if err != nil {
			return nil, err
		}
		defer L.Close()

		scope := L.G.Global
		if child != nil {
			subs, ok := L.GetGlobal(GlobalSubdevices).(*lua.LTable)
			if !ok {
				return nil, errb.Errorf("subdevices table missing")
			}
			scope, ok = subs.RawGetString(*child).(*lua.LTable)
			if !ok {
				return nil, errb.With("subdevice", *child).Errorf("subdevice table missing")
			}
		}
		fn := scope.RawGetString(name)
		if fn.Type() != lua.LTFunction {
			return nil, errb.Errorf("%s is not a function", name)
		}

		if params == nil {
			params = device.Params{}
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, toLua(L, params)); err != nil {
			return nil, errb.Wrapf(err, "call %s", name)
		}
		ret := L.Get(-1)
		L.Pop(1)
		return fromLua(ret), nil
	}
}

// load creates a state with the host functions bound to d and runs the
// compiled chunk in it.
func (r *Runtime) load(ctx context.Context, s *script, d *device.Device) (*lua.LState, error) {
	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	r.register(L, s, d)
	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, oops.In("lua").With("package", s.name).Wrapf(err, "run entry")
	}
	return L, nil
}

// register installs the host functions: log(msg), state_get(key) and
// state_set(key, value).
func (r *Runtime) register(L *lua.LState, s *script, d *device.Device) {
	logger := r.logger.With("package", s.name)
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info(L.CheckString(1))
		return 0
	}))
	L.SetGlobal("state_get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if d == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, _ := d.State().Get(key)
		L.Push(toLua(L, v))
		return 1
	}))
	L.SetGlobal("state_set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if d == nil {
			L.RaiseError("state_set called outside a device")
			return 0
		}
		d.State().Set(key, fromLua(L.Get(2)))
		d.State().NotifyChanged()
		return 0
	}))
}
