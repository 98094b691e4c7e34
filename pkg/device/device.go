// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package device

import (
	"context"
	"iter"
	"sync"
)

// Device is an instance of a Class.
type Device struct {
	class  *Class
	engine Engine
	state  *State

	capMu sync.RWMutex
	caps  map[CapabilityKind]any
}

// Kind returns the device's class kind.
func (d *Device) Kind() string { return d.class.Kind() }

// Class returns the device's class.
func (d *Device) Class() *Class { return d.class }

// Engine returns the engine the device was constructed in.
func (d *Device) Engine() Engine { return d.engine }

// State returns the device's persisted state.
func (d *Device) State() *State { return d.state }

// Query invokes the named query.
func (d *Device) Query(ctx context.Context, name string, params Params) (iter.Seq[Result], error) {
	fn, ok := d.class.Queries[name]
	if !ok {
		return nil, d.class.missing("query", name)
	}
	return fn(ctx, d, params)
}

// Invoke invokes the named action.
func (d *Device) Invoke(ctx context.Context, name string, params Params) (Result, error) {
	fn, ok := d.class.Actions[name]
	if !ok {
		return nil, d.class.missing("action", name)
	}
	return fn(ctx, d, params)
}

// Subscribe opens a stream of results for the named query.
func (d *Device) Subscribe(ctx context.Context, name string, params Params) (Stream, error) {
	fn, ok := d.class.Subscribes[name]
	if !ok {
		return nil, d.class.missing("query", name)
	}
	return fn(ctx, d, params)
}

// CheckAvailable reports the device's availability.
func (d *Device) CheckAvailable(ctx context.Context) Availability {
	if d.class.CheckAvailable == nil {
		return AvailabilityUnknown
	}
	return d.class.CheckAvailable(ctx, d)
}
