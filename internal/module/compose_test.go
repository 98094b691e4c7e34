// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module_test

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

const lampManifest = `
kind: com.example.lamp
version: 4
loader:
  type: org.thingpedia.builtin
metadata:
  name: Lamp
  description: A smart lamp
  category: physical
queries:
  state:
    poll_interval: 1m
    doc: current lamp state
  feed:
    poll_interval: 0
  random: {}
actions:
  toggle:
    doc: toggle the lamp
`

func lampImpl() *device.Implementation {
	return &device.Implementation{
		Functions: map[string]device.RawFunc{
			"get_state":      value([]device.Result{{"on": true}}),
			"get_feed":       value([]map[string]any{{"item": 1}, {"item": 2}}),
			"get_random":     value([]any{map[string]any{"n": 4}}),
			"subscribe_feed": value(device.NewChanStream(0, nil)),
			"do_toggle":      value(map[string]any{"on": false}),
		},
	}
}

func composeLamp(t *testing.T, impl *device.Implementation) (*device.Class, error) {
	t.Helper()
	m := module.NewBuiltinModule("com.example.lamp", parse(t, lampManifest), impl)
	return m.GetDeviceClass(context.Background())
}

func TestComposeBuildsClass(t *testing.T) {
	class, err := composeLamp(t, lampImpl())
	require.NoError(t, err)

	assert.Equal(t, "com.example.lamp", class.Kind())
	assert.Equal(t, module.BuiltinVersion, class.Metadata.Version)
	assert.Equal(t, "Lamp", class.Metadata.Name)
	assert.Equal(t, "physical", class.Metadata.Category)
	assert.Equal(t, "current lamp state", class.Metadata.Docs["state"])
	assert.Equal(t, []string{"feed", "random", "state"}, class.QueryNames())
	assert.Equal(t, []string{"toggle"}, class.ActionNames())
	assert.Len(t, class.Subscribes, 3)
}

func TestComposeMissingFunctionsAreImplementationErrors(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		message string
	}{
		{name: "action", drop: "do_toggle", message: "implementation for action toggle missing"},
		{name: "query", drop: "get_state", message: "implementation for query state missing"},
		{name: "push subscribe", drop: "subscribe_feed", message: "implementation for subscribe feed missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl := lampImpl()
			delete(impl.Functions, tt.drop)

			_, err := composeLamp(t, impl)
			errutil.AssertErrorCode(t, err, errutil.CodeImplementation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestComposeAcceptsQueryShapes(t *testing.T) {
	ch := make(chan device.Result, 2)
	ch <- device.Result{"item": "a"}
	ch <- device.Result{"item": "b"}
	close(ch)

	var seq iter.Seq[device.Result] = slices.Values([]device.Result{{"item": "s"}})

	tests := []struct {
		name string
		raw  any
		want []device.Result
	}{
		{name: "typed nil slice", raw: []device.Result(nil), want: nil},
		{name: "empty any slice", raw: []any{}, want: nil},
		{name: "results", raw: []device.Result{{"a": 1}}, want: []device.Result{{"a": 1}}},
		{name: "maps", raw: []map[string]any{{"a": 2}}, want: []device.Result{{"a": 2}}},
		{name: "any slice", raw: []any{map[string]any{"a": 3}}, want: []device.Result{{"a": 3}}},
		{name: "sequence", raw: seq, want: []device.Result{{"item": "s"}}},
		{name: "channel", raw: (<-chan device.Result)(ch), want: []device.Result{{"item": "a"}, {"item": "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl := lampImpl()
			impl.Functions["get_random"] = value(tt.raw)
			class, err := composeLamp(t, impl)
			require.NoError(t, err)

			results, err := newDevice(t, class).Query(context.Background(), "random", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, slices.Collect(results))
		})
	}
}

func TestComposeRejectsBadQueryShapeAtInvocation(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		message string
	}{
		{name: "scalar", raw: "not a list", message: "expected a list or sequence"},
		{name: "nothing", raw: nil, message: "returned nothing"},
		{name: "non-object item", raw: []any{1, "two", map[string]any{"ok": true}}, message: "result 0 is int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl := lampImpl()
			impl.Functions["get_random"] = value(tt.raw)
			class, err := composeLamp(t, impl)
			require.NoError(t, err)

			_, err = newDevice(t, class).Query(context.Background(), "random", nil)
			errutil.AssertImplementationError(t, err, tt.message)
		})
	}
}

func TestComposeTreatsEmptyListActionResultAsEmpty(t *testing.T) {
	impl := lampImpl()
	impl.Functions["do_toggle"] = value([]any{})
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	res, err := newDevice(t, class).Invoke(context.Background(), "toggle", nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestComposeRecoversPanics(t *testing.T) {
	impl := lampImpl()
	impl.Functions["do_toggle"] = func(context.Context, *device.Device, device.Params) (any, error) {
		panic("bulb exploded")
	}
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	_, err = newDevice(t, class).Invoke(context.Background(), "toggle", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bulb exploded")
}

func TestComposePassesErrorsThrough(t *testing.T) {
	boom := errors.New("lamp offline")
	impl := lampImpl()
	impl.Functions["get_state"] = func(context.Context, *device.Device, device.Params) (any, error) {
		return nil, boom
	}
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	_, err = newDevice(t, class).Query(context.Background(), "state", nil)
	assert.ErrorIs(t, err, boom)
}

func TestComposeWrapsScalarActionResults(t *testing.T) {
	impl := lampImpl()
	impl.Functions["do_toggle"] = value(42)
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	res, err := newDevice(t, class).Invoke(context.Background(), "toggle", nil)
	require.NoError(t, err)
	assert.Equal(t, device.Result{"result": 42}, res)
}

func TestComposeNonDeterministicQueryIsNotMonitorable(t *testing.T) {
	class, err := composeLamp(t, lampImpl())
	require.NoError(t, err)

	_, err = newDevice(t, class).Subscribe(context.Background(), "random", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeNotMonitorable)
	assert.Contains(t, err.Error(), "this query is non-deterministic and cannot be monitored")
}

func TestComposeChecksExplicitSubscribeResult(t *testing.T) {
	impl := lampImpl()
	impl.Functions["subscribe_feed"] = value("not a stream")
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	_, err = newDevice(t, class).Subscribe(context.Background(), "feed", nil)
	errutil.AssertErrorCode(t, err, errutil.CodeImplementation)
}

func TestComposeUsesExplicitSubscribe(t *testing.T) {
	stream := device.NewChanStream(0, nil)
	impl := lampImpl()
	impl.Functions["subscribe_feed"] = value(stream)
	class, err := composeLamp(t, impl)
	require.NoError(t, err)

	got, err := newDevice(t, class).Subscribe(context.Background(), "feed", nil)
	require.NoError(t, err)
	assert.Same(t, stream, got)
}

func TestGetDeviceClassIsIdempotentUntilCleared(t *testing.T) {
	m := module.NewBuiltinModule("com.example.lamp", parse(t, lampManifest), lampImpl())
	ctx := context.Background()

	first, err := m.GetDeviceClass(ctx)
	require.NoError(t, err)
	second, err := m.GetDeviceClass(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	m.ClearCache()
	third, err := m.GetDeviceClass(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestComposeSkipsSubdevicesWithoutImplementation(t *testing.T) {
	def := parse(t, `
kind: com.example.hub
loader:
  type: org.thingpedia.builtin
child_types: [com.example.hub.light]
`)
	m := module.NewBuiltinModule("com.example.hub", def, &device.Implementation{})

	class, err := m.GetDeviceClass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, class.Subdevices)
}

func TestBuiltinModuleMetadata(t *testing.T) {
	def := parse(t, lampManifest)
	m := module.NewBuiltinModule("com.example.lamp", def, lampImpl())

	assert.Equal(t, "com.example.lamp", m.ID())
	assert.Equal(t, module.BuiltinVersion, m.Version())
	assert.Same(t, def, m.Manifest())
	assert.Equal(t, schema.LoaderBuiltin, m.Manifest().LoaderType())
}
