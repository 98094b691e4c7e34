// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package device

import (
	"context"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/pkg/errutil"
)

// QueryFunc is a wrapped query. The returned sequence is never nil on success.
type QueryFunc func(ctx context.Context, d *Device, params Params) (iter.Seq[Result], error)

// ActionFunc is a wrapped action.
type ActionFunc func(ctx context.Context, d *Device, params Params) (Result, error)

// SubscribeFunc is a wrapped subscription.
type SubscribeFunc func(ctx context.Context, d *Device, params Params) (Stream, error)

// Metadata is the denormalized description of a class.
type Metadata struct {
	Kind        string
	Version     int
	Name        string
	Description string
	Category    string
	// AuthType is the config mixin type: "none", "form" or "oauth2".
	AuthType string
	// Docs maps function names to their documentation strings.
	Docs map[string]string
}

// Class is a composed, runnable device class.
type Class struct {
	Metadata Metadata

	Queries    map[string]QueryFunc
	Actions    map[string]ActionFunc
	Subscribes map[string]SubscribeFunc
	Subdevices map[string]*Class

	// Init runs after a device is constructed.
	Init func(ctx context.Context, d *Device) error
	// LoadFromOAuth2 builds initial device state from exchanged tokens.
	LoadFromOAuth2 func(ctx context.Context, engine Engine, tokens OAuthTokens) (*State, error)
	// CheckAvailable reports device availability.
	CheckAvailable func(ctx context.Context, d *Device) Availability

	capabilities map[CapabilityKind]CapabilityFactory
}

// Kind returns the class kind.
func (c *Class) Kind() string { return c.Metadata.Kind }

// Install registers a capability created for every device of the class.
// Installing a kind twice replaces the previous factory.
func (c *Class) Install(kind CapabilityKind, factory CapabilityFactory) {
	if c.capabilities == nil {
		c.capabilities = make(map[CapabilityKind]CapabilityFactory)
	}
	c.capabilities[kind] = factory
}

// HasCapability reports whether a capability of the given kind is installed.
func (c *Class) HasCapability(kind CapabilityKind) bool {
	_, ok := c.capabilities[kind]
	return ok
}

// QueryNames returns the sorted query names.
func (c *Class) QueryNames() []string { return slices.Sorted(maps.Keys(c.Queries)) }

// ActionNames returns the sorted action names.
func (c *Class) ActionNames() []string { return slices.Sorted(maps.Keys(c.Actions)) }

// New constructs a device of this class around state. A nil state starts
// empty. The state's kind key is set to the class kind.
func (c *Class) New(ctx context.Context, engine Engine, state *State) (*Device, error) {
	if state == nil {
		state = NewState(nil)
	}
	state.Set(StateKind, c.Kind())

	d := &Device{
		class:  c,
		engine: engine,
		state:  state,
		caps:   make(map[CapabilityKind]any, len(c.capabilities)),
	}
	for kind, factory := range c.capabilities {
		d.caps[kind] = factory(d)
	}
	if c.Init != nil {
		if err := c.Init(ctx, d); err != nil {
			return nil, oops.In("device").With("kind", c.Kind()).Wrapf(err, "initialize device")
		}
	}
	return d, nil
}

// NewFromOAuth2 constructs a device from freshly exchanged OAuth2 tokens,
// using LoadFromOAuth2 when the class defines it.
func (c *Class) NewFromOAuth2(ctx context.Context, engine Engine, tokens OAuthTokens) (*Device, error) {
	var state *State
	if c.LoadFromOAuth2 != nil {
		s, err := c.LoadFromOAuth2(ctx, engine, tokens)
		if err != nil {
			return nil, err
		}
		state = s
	}
	if state == nil {
		state = NewState(nil)
	}
	if state.String(StateAccessToken) == "" {
		StoreTokens(state, tokens)
	}
	return c.New(ctx, engine, state)
}

// StoreTokens writes OAuth2 tokens onto state. An empty refresh token keeps
// the previously stored one.
func StoreTokens(state *State, tokens OAuthTokens) {
	state.Set(StateAccessToken, tokens.AccessToken)
	if tokens.RefreshToken != "" {
		state.Set(StateRefreshToken, tokens.RefreshToken)
	}
	if !tokens.Expiry.IsZero() {
		state.Set(StateExpiresAt, tokens.Expiry.UTC().Format(time.RFC3339Nano))
	} else {
		state.Delete(StateExpiresAt)
	}
}

func (c *Class) missing(fnKind, name string) error {
	return oops.In("device").
		Code(errutil.CodeNotFound).
		With("kind", c.Kind()).
		With("function", name).
		Errorf("%s has no %s %s", c.Kind(), fnKind, name)
}
