// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package device provides the types shared by device implementations and the
// devicekit loader: raw implementations, composed classes, device instances
// and their persisted state.
//
// A raw Implementation is a table of functions keyed by their conventional
// names: "get_<query>", "do_<action>" and "subscribe_<query>". The loader
// validates the table against the device manifest and wraps every function
// before exposing it on a Class.
package device

import (
	"context"
	"slices"
	"strings"
	"time"
)

// SDKVersion is the device SDK version. Package descriptors declare a semver
// constraint that must accept it.
const SDKVersion = "1.4.0"

// Function name prefixes of a raw implementation table.
const (
	QueryPrefix     = "get_"
	ActionPrefix    = "do_"
	SubscribePrefix = "subscribe_"
)

// Params are the input parameters of a function invocation.
type Params map[string]any

// Result is one output record of a query or action.
type Result map[string]any

// RawFunc is an unwrapped implementation function.
//
// Query functions must return a []Result, []map[string]any, iter.Seq[Result]
// or <-chan Result. Subscribe functions must return a Stream. Action functions
// may return a Result, a map[string]any or nil.
type RawFunc func(ctx context.Context, d *Device, params Params) (any, error)

// Implementation is the raw, unvalidated implementation of a device class.
type Implementation struct {
	// Init runs when a device instance is constructed. Optional.
	Init func(ctx context.Context, d *Device) error

	// Functions holds get_*, do_* and subscribe_* functions.
	Functions map[string]RawFunc

	// Subdevices maps child kinds to their implementations.
	Subdevices map[string]*Implementation

	// LoadFromOAuth2 builds the initial state of a device after a successful
	// OAuth2 code exchange. When nil the tokens are stored as-is.
	LoadFromOAuth2 func(ctx context.Context, engine Engine, tokens OAuthTokens) (*State, error)

	// CheckAvailable reports device availability. Optional.
	CheckAvailable func(ctx context.Context, d *Device) Availability
}

// Function returns the raw function with the given full name.
func (i *Implementation) Function(name string) (RawFunc, bool) {
	if i == nil || i.Functions == nil {
		return nil, false
	}
	fn, ok := i.Functions[name]
	return fn, ok && fn != nil
}

// FunctionNames returns the names of the functions with the given prefix,
// with the prefix stripped, sorted.
func (i *Implementation) FunctionNames(prefix string) []string {
	if i == nil {
		return nil
	}
	var names []string
	for name := range i.Functions {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			names = append(names, rest)
		}
	}
	slices.Sort(names)
	return names
}

// Engine is the host engine a device runs in.
type Engine interface {
	// Origin is the externally reachable base URL of the engine, used to
	// build OAuth2 redirect URLs.
	Origin() string
}

// StaticEngine is an Engine with a fixed origin.
type StaticEngine string

// Origin implements Engine.
func (e StaticEngine) Origin() string { return string(e) }

// OAuthTokens is the result of an OAuth2 token exchange.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time

	// Extra returns a raw field of the provider's token response, or nil.
	Extra func(key string) any
}

// Availability is the result of an availability check.
type Availability int

// Availability values.
const (
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityUnavailable
	AvailabilityOwnerUnavailable
)

// String returns the availability name.
func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityUnavailable:
		return "unavailable"
	case AvailabilityOwnerUnavailable:
		return "owner-unavailable"
	default:
		return "unknown"
	}
}
