// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/devicekit/pkg/device"
)

// PackageFile is the package descriptor inside a module directory.
const PackageFile = "package.yaml"

// CompletionMarker is written into a module directory once it was
// downloaded, unpacked, required and validated.
const CompletionMarker = ".installed"

// Runtime names.
const (
	RuntimeLua    = "lua"
	RuntimeBinary = "binary"
)

// Runtime turns a module directory into a raw implementation.
type Runtime interface {
	Name() string
	// Require loads the code in dir. Loading the same dir twice returns the
	// cached code until it is evicted.
	Require(ctx context.Context, dir string, pkg *Package) (*device.Implementation, error)
	// Evict drops code loaded from any path under prefix.
	Evict(prefix string)
}

// Package is the package descriptor of a module.
type Package struct {
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`
	// SDK is a semver constraint the host SDK version must satisfy.
	SDK     string `yaml:"sdk"`
	Runtime string `yaml:"runtime"`
	Entry   string `yaml:"entry"`
}

var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// ReadPackage reads and validates the package descriptor in dir.
func ReadPackage(dir string) (*Package, error) {
	path := filepath.Join(dir, PackageFile)
	data, err := os.ReadFile(path) //nolint:gosec // dir is a module directory owned by the cache
	if errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("module").With("dir", dir).Errorf("module directory has no %s", PackageFile)
	}
	if err != nil {
		return nil, oops.In("module").With("path", path).Wrapf(err, "read package descriptor")
	}
	var pkg Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return nil, oops.In("module").With("path", path).Wrapf(err, "parse package descriptor")
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Validate checks the descriptor and that the host SDK satisfies its
// constraint.
func (p *Package) Validate() error {
	errb := oops.In("module").With("package", p.Name)
	if !packageNamePattern.MatchString(p.Name) {
		return errb.Errorf("invalid package name %q", p.Name)
	}
	if p.Runtime == "" {
		return errb.Errorf("runtime is required")
	}
	if p.Entry == "" {
		return errb.Errorf("entry is required")
	}
	if filepath.IsAbs(p.Entry) || strings.HasPrefix(filepath.Clean(p.Entry), "..") {
		return errb.Errorf("entry %q must stay inside the module directory", p.Entry)
	}
	if p.SDK == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(p.SDK)
	if err != nil {
		return errb.With("sdk", p.SDK).Wrapf(err, "invalid sdk constraint")
	}
	if !constraint.Check(semver.MustParse(device.SDKVersion)) {
		return errb.
			With("sdk", p.SDK).
			With("host_sdk", device.SDKVersion).
			Hint("rebuild the module against a supported SDK").
			Errorf("package requires sdk %s, host provides %s", p.SDK, device.SDKVersion)
	}
	return nil
}

// EntryPath returns the absolute entry path inside dir.
func (p *Package) EntryPath(dir string) string {
	return filepath.Join(dir, filepath.Clean(p.Entry))
}

// UnderPrefix reports whether path is prefix or lies inside it. An empty
// prefix matches every path.
func UnderPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}
