// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs device modules written in Lua.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type library struct {
	name string
	fn   lua.LGFunction
}

// sandboxLibraries are the libraries module code may use. os, io, debug and
// package are never opened.
func sandboxLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedBaseFunctions read files or compile arbitrary chunks.
var blockedBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []library
}

// NewStateFactory creates a factory opening the sandbox libraries.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: sandboxLibraries()}
}

// NewState creates a fresh sandboxed state bound to ctx. The caller closes
// it.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}
	for _, fn := range blockedBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
