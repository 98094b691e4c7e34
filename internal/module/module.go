// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package module loads device modules and composes their classes.
//
// A Downloader resolves a module id to a manifest, picks a loader strategy
// from the manifest's loader type and hands out the resulting Module. Each
// Module composes its device.Class lazily, once, and recomposes only after
// ClearCache.
package module

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
)

// Module is a loaded, versioned device module.
type Module interface {
	ID() string
	// Version is the manifest version, 0 for builtin modules and -1 for
	// developer overrides.
	Version() int
	Manifest() *schema.ClassDef
	// ClearCache drops the composed class and any code loaded for the
	// module, forcing recomposition on the next GetDeviceClass.
	ClearCache()
	// GetDeviceClass composes the class on first use and returns the same
	// class afterwards.
	GetDeviceClass(ctx context.Context) (*device.Class, error)
}

// ClassDecorator adjusts a freshly composed class, for example by installing
// capabilities.
type ClassDecorator func(def *schema.ClassDef, class *device.Class) error

// composeFunc builds a module's class.
type composeFunc func(ctx context.Context) (*device.Class, error)

// base holds the state every strategy shares.
type base struct {
	id       string
	version  int
	manifest *schema.ClassDef
	graph    *schema.Graph
	env      *env

	mu    sync.Mutex
	class *device.Class
	gen   uint64
	group singleflight.Group

	compose composeFunc
	onClear func()
}

func (b *base) init(id string, version int, def *schema.ClassDef, graph *schema.Graph, e *env) {
	if graph == nil {
		graph = schema.NewGraph(def, nil, e.logger)
	}
	b.id = id
	b.version = version
	b.manifest = def
	b.graph = graph
	b.env = e
}

func (b *base) ID() string                 { return b.id }
func (b *base) Version() int               { return b.version }
func (b *base) Manifest() *schema.ClassDef { return b.manifest }

// Graph returns the module's class inheritance graph.
func (b *base) Graph() *schema.Graph { return b.graph }

func (b *base) GetDeviceClass(ctx context.Context) (*device.Class, error) {
	b.mu.Lock()
	if b.class != nil {
		class := b.class
		b.mu.Unlock()
		return class, nil
	}
	gen := b.gen
	b.mu.Unlock()

	ch := b.group.DoChan("class", func() (any, error) {
		b.mu.Lock()
		if b.class != nil {
			class := b.class
			b.mu.Unlock()
			return class, nil
		}
		b.mu.Unlock()

		class, err := b.compose(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		if b.gen == gen {
			b.class = class
		}
		b.mu.Unlock()
		return class, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*device.Class), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *base) ClearCache() {
	b.mu.Lock()
	b.class = nil
	b.gen++
	b.mu.Unlock()
	b.group.Forget("class")
	if b.onClear != nil {
		b.onClear()
	}
}

// env is what modules need from the Downloader that created them.
type env struct {
	logger     *slog.Logger
	decorators []ClassDecorator
	downloader *Downloader
}
