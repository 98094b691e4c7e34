// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"iter"

	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// UnsupportedModule stands in for a module whose manifest is known but whose
// implementation cannot run on this host. Every function fails with
// errutil.CodeUnsupported.
type UnsupportedModule struct {
	base
}

func newUnsupportedModule(id string, def *schema.ClassDef, graph *schema.Graph, e *env) *UnsupportedModule {
	m := &UnsupportedModule{}
	m.init(id, def.Version, def, graph, e)
	m.compose = m.composeUnsupported
	return m
}

func (m *UnsupportedModule) composeUnsupported(context.Context) (*device.Class, error) {
	queries := m.graph.Functions(m.manifest.Kind, schema.Query)
	actions := m.graph.Functions(m.manifest.Kind, schema.Action)

	class := &device.Class{
		Metadata:   m.metadata(queries, actions),
		Queries:    make(map[string]device.QueryFunc, len(queries)),
		Actions:    make(map[string]device.ActionFunc, len(actions)),
		Subscribes: make(map[string]device.SubscribeFunc, len(queries)),
		Subdevices: make(map[string]*device.Class),
	}
	class.CheckAvailable = func(context.Context, *device.Device) device.Availability {
		return device.AvailabilityOwnerUnavailable
	}
	for _, name := range queries {
		class.Queries[name] = func(context.Context, *device.Device, device.Params) (iter.Seq[device.Result], error) {
			return nil, errutil.Unsupported(m.id)
		}
		class.Subscribes[name] = func(context.Context, *device.Device, device.Params) (device.Stream, error) {
			return nil, errutil.Unsupported(m.id)
		}
	}
	for _, name := range actions {
		class.Actions[name] = func(context.Context, *device.Device, device.Params) (device.Result, error) {
			return nil, errutil.Unsupported(m.id)
		}
	}

	for _, decorate := range m.env.decorators {
		if err := decorate(m.manifest, class); err != nil {
			return nil, err
		}
	}
	return class, nil
}
