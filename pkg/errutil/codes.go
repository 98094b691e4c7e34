// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil defines the devicekit error taxonomy and helpers for
// classifying and logging oops errors.
package errutil

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes attached with oops.Code. Wrapping layers must not set a code of
// their own: oops reports the deepest code in a chain, so the code assigned
// where the failure originated is the one callers observe.
const (
	// CodeNotFound means the catalog has no manifest or package for an id.
	CodeNotFound = "NOT_FOUND"
	// CodeImplementation means a declared function is missing or returned a
	// value of the wrong shape.
	CodeImplementation = "IMPLEMENTATION_ERROR"
	// CodeUnsupported marks a known device whose implementation is not
	// available on this host. Callers should not retry.
	CodeUnsupported = "E_UNSUPPORTED"
	// CodeNotMonitorable is returned when subscribing to a query that is
	// declared non-deterministic.
	CodeNotMonitorable = "NOT_MONITORABLE"
	// CodeOAuth normalizes every failure of the OAuth2 flow engine.
	CodeOAuth = "OAUTH_ERROR"
	// CodeTransport marks network and HTTP failures.
	CodeTransport = "TRANSPORT_ERROR"
)

// Code returns the oops code carried by err, or "" when err is not an oops
// error or has no code.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsImplementation reports whether err is an implementation error.
func IsImplementation(err error) bool { return HasCode(err, CodeImplementation) }

// IsUnsupported reports whether err comes from an unsupported placeholder.
func IsUnsupported(err error) bool { return HasCode(err, CodeUnsupported) }

// IsOAuth reports whether err is a normalized OAuth failure.
func IsOAuth(err error) bool { return HasCode(err, CodeOAuth) }

// IsTransport reports whether err is a network or HTTP failure.
func IsTransport(err error) bool { return HasCode(err, CodeTransport) }

// NotFound builds a not-found error for the given module id.
func NotFound(domain, id string) error {
	return oops.In(domain).Code(CodeNotFound).With("module", id).Errorf("%s not found", id)
}

// Implementation builds an implementation error.
func Implementation(id, format string, args ...any) error {
	return oops.In("module").Code(CodeImplementation).With("module", id).Errorf(format, args...)
}

// Unsupported builds the error returned by unsupported placeholders.
func Unsupported(id string) error {
	return oops.In("module").Code(CodeUnsupported).With("module", id).
		Errorf("device %s is not supported on this platform", id)
}

// Root returns the innermost error of a wrap chain.
func Root(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
