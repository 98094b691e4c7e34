// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

// Session carries values between Authorize and Exchange. The caller stores
// it across the redirect round trip.
type Session map[string]string

const (
	stateKeyPrefix    = "oauth2-state-"
	verifierKeyPrefix = "oauth2-verifier-"
)

// StateKey is the session key of the CSRF state for kind.
func StateKey(kind string) string { return stateKeyPrefix + kind }

// VerifierKey is the session key of the PKCE verifier for kind.
func VerifierKey(kind string) string { return verifierKeyPrefix + kind }
