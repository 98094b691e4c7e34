// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package catalog retrieves device manifests and module archives.
package catalog

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/pkg/errutil"
)

// Catalog is the source of manifests and module code.
//
// Implementations report unknown ids with an errutil.CodeNotFound error so
// callers can tell them apart from transient failures.
type Catalog interface {
	// GetDeviceCode returns the manifest text of id.
	GetDeviceCode(ctx context.Context, id string) (string, error)
	// GetSchemas returns the manifests of ids as a multi-document YAML
	// stream. withMetadata includes display metadata.
	GetSchemas(ctx context.Context, ids []string, withMetadata bool) (string, error)
	// GetModuleLocation returns the URI of the module archive of id, either
	// http(s) or file.
	GetModuleLocation(ctx context.Context, id string) (string, error)
}

// DocumentSeparator separates manifests in a GetSchemas answer.
const DocumentSeparator = "\n---\n"

// DirCatalog serves manifests and archives from a local directory holding
// <id>.yaml and <id>.zip files.
type DirCatalog struct {
	dir string
}

// NewDirCatalog creates a catalog over dir.
func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{dir: dir}
}

// Dir returns the catalog directory.
func (c *DirCatalog) Dir() string { return c.dir }

func (c *DirCatalog) file(id, ext string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", oops.In("catalog").With("module", id).Errorf("invalid module id %q", id)
	}
	return filepath.Join(c.dir, id+ext), nil
}

// GetDeviceCode implements Catalog.
func (c *DirCatalog) GetDeviceCode(_ context.Context, id string) (string, error) {
	path, err := c.file(id, ".yaml")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errutil.NotFound("catalog", id)
	}
	if err != nil {
		return "", oops.In("catalog").With("module", id).Wrapf(err, "read manifest")
	}
	return string(data), nil
}

// GetSchemas implements Catalog. Unknown ids are skipped.
func (c *DirCatalog) GetSchemas(ctx context.Context, ids []string, _ bool) (string, error) {
	docs := make([]string, 0, len(ids))
	for _, id := range ids {
		text, err := c.GetDeviceCode(ctx, id)
		if errutil.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		docs = append(docs, strings.TrimSpace(text))
	}
	return strings.Join(docs, DocumentSeparator), nil
}

// GetModuleLocation implements Catalog.
func (c *DirCatalog) GetModuleLocation(_ context.Context, id string) (string, error) {
	path, err := c.file(id, ".zip")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", errutil.NotFound("catalog", id)
	} else if err != nil {
		return "", oops.In("catalog").With("module", id).Wrapf(err, "stat module archive")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", oops.In("catalog").With("module", id).Wrapf(err, "resolve module archive")
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
