// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/catalog"
	"github.com/holomush/devicekit/pkg/errutil"
)

// Catalog serves the builtin manifests and delegates every other id to
// next. next may be nil.
type Catalog struct {
	next catalog.Catalog
}

var _ catalog.Catalog = (*Catalog)(nil)

// NewCatalog creates a catalog overlay.
func NewCatalog(next catalog.Catalog) *Catalog {
	return &Catalog{next: next}
}

func (c *Catalog) builtin(id string) bool {
	return slices.Contains(IDs(), id)
}

func (c *Catalog) notFound(id string) error {
	return oops.In("builtins").Code(errutil.CodeNotFound).With("module", id).Errorf("module %s not found", id)
}

// GetDeviceCode implements catalog.Catalog.
func (c *Catalog) GetDeviceCode(ctx context.Context, id string) (string, error) {
	if c.builtin(id) {
		return Manifest(id)
	}
	if c.next == nil {
		return "", c.notFound(id)
	}
	return c.next.GetDeviceCode(ctx, id)
}

// GetSchemas implements catalog.Catalog.
func (c *Catalog) GetSchemas(ctx context.Context, ids []string, withMetadata bool) (string, error) {
	var docs, rest []string
	for _, id := range ids {
		if !c.builtin(id) {
			rest = append(rest, id)
			continue
		}
		text, err := Manifest(id)
		if err != nil {
			return "", err
		}
		docs = append(docs, strings.TrimSpace(text))
	}
	if len(rest) > 0 && c.next != nil {
		text, err := c.next.GetSchemas(ctx, rest, withMetadata)
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text != "" {
			docs = append(docs, text)
		}
	}
	return strings.Join(docs, catalog.DocumentSeparator), nil
}

// GetModuleLocation implements catalog.Catalog. Builtin modules have no
// archive.
func (c *Catalog) GetModuleLocation(ctx context.Context, id string) (string, error) {
	if c.builtin(id) {
		return "", oops.In("builtins").Code(errutil.CodeNotFound).With("module", id).Errorf("builtin module %s has no archive", id)
	}
	if c.next == nil {
		return "", c.notFound(id)
	}
	return c.next.GetModuleLocation(ctx, id)
}
