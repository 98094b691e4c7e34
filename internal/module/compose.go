// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"iter"
	"slices"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// notMonitorableMessage is the failure of subscribing to a query marked
// non-deterministic.
const notMonitorableMessage = "this query is non-deterministic and cannot be monitored"

// composeClass validates impl against the module's manifest and builds the
// runnable class.
func (b *base) composeClass(ctx context.Context, impl *device.Implementation) (*device.Class, error) {
	kind := b.manifest.Kind
	root := kind
	queries := b.graph.Functions(root, schema.Query)
	actions := b.graph.Functions(root, schema.Action)

	for _, name := range actions {
		if _, ok := impl.Function(device.ActionPrefix + name); !ok {
			return nil, errutil.Implementation(b.id, "implementation for action %s missing", name)
		}
	}
	for _, name := range queries {
		if _, ok := impl.Function(device.QueryPrefix + name); !ok {
			return nil, errutil.Implementation(b.id, "implementation for query %s missing", name)
		}
		q, _ := b.graph.QueryDef(root, name)
		if q.Interval() == 0 {
			if _, ok := impl.Function(device.SubscribePrefix + name); !ok {
				return nil, errutil.Implementation(b.id, "implementation for subscribe %s missing (poll interval is 0)", name)
			}
		}
	}

	class := &device.Class{
		Metadata:       b.metadata(queries, actions),
		Queries:        make(map[string]device.QueryFunc, len(queries)),
		Actions:        make(map[string]device.ActionFunc, len(actions)),
		Subscribes:     make(map[string]device.SubscribeFunc, len(queries)),
		Subdevices:     make(map[string]*device.Class),
		Init:           impl.Init,
		LoadFromOAuth2: impl.LoadFromOAuth2,
		CheckAvailable: impl.CheckAvailable,
	}

	for _, name := range actions {
		fn, _ := impl.Function(device.ActionPrefix + name)
		class.Actions[name] = wrapAction(b.id, name, fn)
	}
	for _, name := range queries {
		fn, _ := impl.Function(device.QueryPrefix + name)
		query := wrapQuery(b.id, name, fn)
		class.Queries[name] = query

		q, _ := b.graph.QueryDef(root, name)
		interval := q.Interval()
		if sub, ok := impl.Function(device.SubscribePrefix + name); ok {
			class.Subscribes[name] = wrapSubscribe(b.id, name, sub)
		} else if interval > 0 {
			class.Subscribes[name] = pollSubscribe(name, interval, query, b.env.logger)
		} else {
			class.Subscribes[name] = notMonitorable(b.id, name)
		}
	}

	if err := b.composeSubdevices(ctx, impl, class); err != nil {
		return nil, err
	}

	for _, decorate := range b.env.decorators {
		if err := decorate(b.manifest, class); err != nil {
			return nil, oops.In("module").With("module", b.id).Wrapf(err, "decorate class")
		}
	}
	return class, nil
}

func (b *base) metadata(queries, actions []string) device.Metadata {
	md := b.manifest.Metadata
	docs := make(map[string]string, len(queries)+len(actions))
	for _, name := range queries {
		if q, ok := b.graph.QueryDef(b.manifest.Kind, name); ok && q.Doc != "" {
			docs[name] = q.Doc
		}
	}
	for _, name := range actions {
		if a, ok := b.graph.ActionDef(b.manifest.Kind, name); ok && a.Doc != "" {
			docs[name] = a.Doc
		}
	}
	return device.Metadata{
		Kind:        b.manifest.Kind,
		Version:     b.version,
		Name:        md.Name,
		Description: md.Description,
		Category:    md.Category,
		AuthType:    string(b.manifest.AuthType()),
		Docs:        docs,
	}
}

// composeSubdevices composes the children declared by the manifest from the
// implementation's subdevice table. Children missing from the table or the
// catalog are logged and skipped.
func (b *base) composeSubdevices(ctx context.Context, impl *device.Implementation, class *device.Class) error {
	for _, childID := range b.manifest.ChildTypes {
		childImpl, ok := impl.Subdevices[childID]
		if !ok || childImpl == nil {
			b.env.logger.Warn("subdevice declared in manifest but missing from implementation",
				"module", b.id,
				"subdevice", childID)
			continue
		}
		d := b.env.downloader
		if d == nil {
			b.env.logger.Warn("no downloader to load subdevice manifest",
				"module", b.id,
				"subdevice", childID)
			continue
		}

		def, err := d.LoadManifest(ctx, childID)
		if err != nil {
			b.env.logger.Warn("failed to load subdevice manifest",
				"module", b.id,
				"subdevice", childID,
				"error", err)
			continue
		}

		child := &subdeviceModule{impl: childImpl}
		child.init(childID, def.Version, def, d.graph(ctx, def), b.env)
		child.compose = func(ctx context.Context) (*device.Class, error) {
			return child.composeClass(ctx, child.impl)
		}

		childClass, err := child.GetDeviceClass(ctx)
		if err != nil {
			return oops.In("module").With("module", b.id).With("subdevice", childID).Wrapf(err, "compose subdevice")
		}
		class.Subdevices[childID] = childClass
		d.injectIfAbsent(childID, child)
	}
	return nil
}

// subdeviceModule is a child module whose code came from its parent.
type subdeviceModule struct {
	base
	impl *device.Implementation
}

func wrapQuery(id, name string, fn device.RawFunc) device.QueryFunc {
	return func(ctx context.Context, d *device.Device, params device.Params) (seq iter.Seq[device.Result], err error) {
		defer recoverInto(&err, id, device.QueryPrefix+name)
		raw, err := fn(ctx, d, params)
		if err != nil {
			return nil, err
		}
		seq, err = toSeq(raw)
		if err != nil {
			return nil, errutil.Implementation(id, "query %s: %v", name, err)
		}
		return seq, nil
	}
}

func wrapAction(id, name string, fn device.RawFunc) device.ActionFunc {
	return func(ctx context.Context, d *device.Device, params device.Params) (res device.Result, err error) {
		defer recoverInto(&err, id, device.ActionPrefix+name)
		raw, err := fn(ctx, d, params)
		if err != nil {
			return nil, err
		}
		return toResult(raw), nil
	}
}

func wrapSubscribe(id, name string, fn device.RawFunc) device.SubscribeFunc {
	return func(ctx context.Context, d *device.Device, params device.Params) (stream device.Stream, err error) {
		defer recoverInto(&err, id, device.SubscribePrefix+name)
		raw, err := fn(ctx, d, params)
		if err != nil {
			return nil, err
		}
		stream, ok := raw.(device.Stream)
		if !ok || stream == nil {
			return nil, errutil.Implementation(id, "subscribe %s returned %T, expected a stream", name, raw)
		}
		return stream, nil
	}
}

func notMonitorable(id, name string) device.SubscribeFunc {
	return func(context.Context, *device.Device, device.Params) (device.Stream, error) {
		return nil, oops.In("module").
			Code(errutil.CodeNotMonitorable).
			With("module", id).
			With("query", name).
			Errorf(notMonitorableMessage)
	}
}

// recoverInto turns a panic in a device function into an error.
func recoverInto(err *error, id, fn string) {
	if r := recover(); r != nil {
		*err = oops.In("device").
			With("module", id).
			With("function", fn).
			Errorf("%s panicked: %v", fn, r)
	}
}

// toSeq accepts the result shapes a query may return.
func toSeq(raw any) (iter.Seq[device.Result], error) {
	switch v := raw.(type) {
	case nil:
		return nil, oops.Errorf("returned nothing, expected a list or sequence of results")
	case []device.Result:
		return slices.Values(v), nil
	case []map[string]any:
		return func(yield func(device.Result) bool) {
			for _, m := range v {
				if !yield(device.Result(m)) {
					return
				}
			}
		}, nil
	case []any:
		out := make([]device.Result, 0, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case device.Result:
				out = append(out, m)
			case map[string]any:
				out = append(out, device.Result(m))
			default:
				return nil, oops.Errorf("result %d is %T, expected an object", i, item)
			}
		}
		return slices.Values(out), nil
	case iter.Seq[device.Result]:
		return v, nil
	case <-chan device.Result:
		return chanSeq(v), nil
	case chan device.Result:
		return chanSeq(v), nil
	default:
		return nil, oops.Errorf("returned %T, expected a list or sequence of results", raw)
	}
}

func chanSeq(ch <-chan device.Result) iter.Seq[device.Result] {
	return func(yield func(device.Result) bool) {
		for r := range ch {
			if !yield(r) {
				return
			}
		}
	}
}

func toResult(raw any) device.Result {
	switch v := raw.(type) {
	case nil:
		return nil
	case device.Result:
		return v
	case map[string]any:
		return device.Result(v)
	case []any:
		if len(v) == 0 {
			return nil
		}
		return device.Result{"result": v}
	default:
		return device.Result{"result": v}
	}
}
