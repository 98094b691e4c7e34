// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries code, looking through wrapping
// that adds no code of its own.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertNotFound asserts that err reports module id as missing.
func AssertNotFound(t *testing.T, err error, id string) {
	t.Helper()
	AssertErrorCode(t, err, CodeNotFound)
	AssertErrorContext(t, err, "module", id)
}

// AssertUnsupported asserts that err comes from the placeholder of module id.
func AssertUnsupported(t *testing.T, err error, id string) {
	t.Helper()
	AssertErrorCode(t, err, CodeUnsupported)
	AssertErrorContext(t, err, "module", id)
}

// AssertImplementationError asserts that err blames the device code and its
// message mentions fragment.
func AssertImplementationError(t *testing.T, err error, fragment string) {
	t.Helper()
	AssertErrorCode(t, err, CodeImplementation)
	assert.Contains(t, err.Error(), fragment)
}
