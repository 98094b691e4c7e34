// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"

	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
)

// BuiltinVersion is the version of modules whose code ships with the host.
const BuiltinVersion = 0

// BuiltinModule is a module implemented inside the host process.
type BuiltinModule struct {
	base
	impl *device.Implementation
}

// newBuiltinModule creates a builtin module. Display strings of def are
// expected to be translated already.
func newBuiltinModule(id string, def *schema.ClassDef, graph *schema.Graph, impl *device.Implementation, e *env) *BuiltinModule {
	m := &BuiltinModule{impl: impl}
	m.init(id, BuiltinVersion, def, graph, e)
	m.compose = func(ctx context.Context) (*device.Class, error) {
		return m.composeClass(ctx, m.impl)
	}
	return m
}

// NewBuiltinModule creates a standalone builtin module for def, for hosts
// that inject modules themselves.
func NewBuiltinModule(id string, def *schema.ClassDef, impl *device.Implementation) *BuiltinModule {
	return newBuiltinModule(id, def, nil, impl, &env{logger: defaultLogger()})
}
