// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package device

import "context"

// CapabilityKind names a capability a class can install on its devices.
type CapabilityKind string

// CapabilityOAuth2 is the kind of the Credentials capability installed on
// classes configured for OAuth2.
const CapabilityOAuth2 CapabilityKind = "oauth2"

// CapabilityFactory creates the capability implementation for one device.
type CapabilityFactory func(d *Device) any

// Credentials gives access to a device's OAuth2 tokens.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	// AuthScheme is the Authorization header scheme, usually "Bearer".
	AuthScheme() string
	// RefreshCredentials exchanges the refresh token for a new access token
	// and persists the result on the device state.
	RefreshCredentials(ctx context.Context) error
}

// Lookup returns the capability of the given kind installed on d, typed as T.
// The second result is false when d has no such capability or it is not a T.
func Lookup[T any](d *Device, kind CapabilityKind) (T, bool) {
	var zero T
	if d == nil {
		return zero, false
	}
	d.capMu.RLock()
	defer d.capMu.RUnlock()
	raw, ok := d.caps[kind]
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	return typed, ok
}

// CredentialsOf returns the OAuth2 credentials capability of d.
func CredentialsOf(d *Device) (Credentials, bool) {
	return Lookup[Credentials](d, CapabilityOAuth2)
}
