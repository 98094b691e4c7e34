// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/devicekit/internal/builtins"
	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/pkg/errutil"
)

// mockCatalog is a mock for catalog.Catalog.
type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetDeviceCode(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockCatalog) GetSchemas(ctx context.Context, ids []string, withMetadata bool) (string, error) {
	args := m.Called(ctx, ids, withMetadata)
	return args.String(0), args.Error(1)
}

func (m *mockCatalog) GetModuleLocation(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func TestCatalog_GetSchemas(t *testing.T) {
	ctx := context.Background()

	t.Run("asks next only for non-builtin ids", func(t *testing.T) {
		next := new(mockCatalog)
		next.On("GetSchemas", ctx, []string{"com.example.lamp"}, true).
			Return("kind: com.example.lamp\nversion: 2\n", nil)

		text, err := builtins.NewCatalog(next).GetSchemas(ctx, []string{builtins.ClockID, "com.example.lamp"}, true)
		require.NoError(t, err)
		assert.Contains(t, text, "kind: "+builtins.ClockID)
		assert.Contains(t, text, catalog.DocumentSeparator+"kind: com.example.lamp")

		next.AssertExpectations(t)
	})

	t.Run("never calls next for builtin ids", func(t *testing.T) {
		next := new(mockCatalog)

		text, err := builtins.NewCatalog(next).GetSchemas(ctx, []string{builtins.HTTPID}, false)
		require.NoError(t, err)
		assert.Contains(t, text, "kind: "+builtins.HTTPID)

		next.AssertNotCalled(t, "GetSchemas", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("propagates next failures", func(t *testing.T) {
		next := new(mockCatalog)
		next.On("GetSchemas", ctx, []string{"com.example.lamp"}, false).
			Return("", errors.New("catalog down"))

		_, err := builtins.NewCatalog(next).GetSchemas(ctx, []string{"com.example.lamp"}, false)
		require.Error(t, err)
		next.AssertExpectations(t)
	})
}

func TestCatalog_GetModuleLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("builtin modules have no archive", func(t *testing.T) {
		next := new(mockCatalog)

		_, err := builtins.NewCatalog(next).GetModuleLocation(ctx, builtins.ClockID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, errutil.CodeNotFound)
		next.AssertNotCalled(t, "GetModuleLocation", mock.Anything, mock.Anything)
	})

	t.Run("delegates other ids", func(t *testing.T) {
		next := new(mockCatalog)
		next.On("GetModuleLocation", ctx, "com.example.lamp").
			Return("https://catalog.example/lamp.zip", nil)

		location, err := builtins.NewCatalog(next).GetModuleLocation(ctx, "com.example.lamp")
		require.NoError(t, err)
		assert.Equal(t, "https://catalog.example/lamp.zip", location)
		next.AssertExpectations(t)
	})
}
