// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package devicesdk provides the SDK for building binary devicekit modules.
//
// Binary modules run as separate processes and talk to the host over gRPC
// using the HashiCorp go-plugin framework. A module registers its device
// functions under their conventional names and calls Serve from main:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/holomush/devicekit/pkg/devicesdk"
//	)
//
//	func main() {
//		devicesdk.Serve(&devicesdk.Module{
//			Functions: map[string]devicesdk.Function{
//				"get_echo": func(_ context.Context, params map[string]any) (any, error) {
//					return []any{map[string]any{"text": params["text"]}}, nil
//				},
//			},
//		})
//	}
//
// The module directory carries a package.yaml with runtime "binary" and the
// executable as entry.
package devicesdk

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the name the module is dispensed under.
const PluginName = "device"

// HandshakeConfig is the go-plugin handshake configuration. Host and
// modules must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DEVICEKIT_MODULE",
	MagicCookieValue: "devicekit-v1",
}

// Function is a device function. Query functions return a list of objects,
// action functions an object or nil.
type Function func(ctx context.Context, params map[string]any) (any, error)

// Module is the implementation a binary module serves.
type Module struct {
	// Functions holds get_* and do_* functions.
	Functions map[string]Function
	// Subdevices maps child kinds to their functions.
	Subdevices map[string]map[string]Function
}

// Description lists what a module implements.
type Description struct {
	Functions  []string
	Subdevices map[string][]string
}

func (m *Module) describe() *Description {
	desc := &Description{
		Functions:  exported(m.Functions),
		Subdevices: make(map[string][]string, len(m.Subdevices)),
	}
	for kind, fns := range m.Subdevices {
		desc.Subdevices[kind] = exported(fns)
	}
	return desc
}

func exported(fns map[string]Function) []string {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(fns)) {
		if fns[name] != nil && (strings.HasPrefix(name, "get_") || strings.HasPrefix(name, "do_")) {
			names = append(names, name)
		}
	}
	return names
}

func (m *Module) lookup(subdevice, name string) (Function, bool) {
	fns := m.Functions
	if subdevice != "" {
		fns = m.Subdevices[subdevice]
	}
	fn, ok := fns[name]
	return fn, ok && fn != nil
}

// ServeConfig configures Serve.
type ServeConfig struct {
	// Module is the implementation. Required; Serve panics if nil.
	Module *Module
}

// Serve starts the module server. Call it from main; it blocks.
func Serve(m *Module) {
	ServeWith(&ServeConfig{Module: m})
}

// ServeWith starts the module server with config.
func ServeWith(config *ServeConfig) {
	if config == nil {
		panic("devicesdk: config cannot be nil")
	}
	if config.Module == nil {
		panic("devicesdk: config.Module cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &GRPCPlugin{Module: config.Module},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
	})
}

// GRPCPlugin implements go-plugin's Plugin interface over gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Module is served by the module process; the host leaves it nil.
	Module *Module
}

// GRPCServer registers the module service (called by the module process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Module == nil {
		return errors.New("devicesdk: module is nil")
	}
	RegisterServer(s, p.Module)
	return nil
}

// GRPCClient returns a module client (called by the host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewClient(c), nil
}
