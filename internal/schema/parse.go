// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package schema

import (
	"regexp"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Parser turns manifest text into a class definition.
type Parser interface {
	Parse(text string) (*ClassDef, error)
}

// kindPattern matches dotted class kinds such as com.example.weather.
var kindPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z0-9_-]+)*$`)

// functionPattern matches query and action names.
var functionPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// YAMLParser parses YAML manifests. The zero value is ready to use.
type YAMLParser struct{}

// Parse implements Parser.
func (YAMLParser) Parse(text string) (*ClassDef, error) {
	if err := ValidateSchema([]byte(text)); err != nil {
		return nil, err
	}

	var def ClassDef
	if err := yaml.Unmarshal([]byte(text), &def); err != nil {
		return nil, oops.In("schema").Wrapf(err, "invalid manifest YAML")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def.Source = text
	return &def, nil
}

// Validate checks constraints the JSON schema cannot express.
func (c *ClassDef) Validate() error {
	errb := oops.In("schema").With("kind", c.Kind)
	if !kindPattern.MatchString(c.Kind) {
		return errb.Errorf("invalid class kind %q", c.Kind)
	}
	if c.Version < DeveloperVersion {
		return errb.Errorf("version must be non-negative, got %d", c.Version)
	}
	for _, parent := range c.Extends {
		if !kindPattern.MatchString(parent) {
			return errb.Errorf("invalid parent kind %q", parent)
		}
		if parent == c.Kind {
			return errb.Errorf("class cannot extend itself")
		}
	}
	for _, child := range c.ChildTypes {
		if !kindPattern.MatchString(child) {
			return errb.Errorf("invalid child kind %q", child)
		}
	}
	for name := range c.Queries {
		if !functionPattern.MatchString(name) {
			return errb.Errorf("invalid query name %q", name)
		}
		if c.Queries[name] == nil {
			c.Queries[name] = &QueryDef{}
		}
	}
	for name := range c.Actions {
		if !functionPattern.MatchString(name) {
			return errb.Errorf("invalid action name %q", name)
		}
		if _, clash := c.Queries[name]; clash {
			return errb.Errorf("%q is declared as both query and action", name)
		}
		if c.Actions[name] == nil {
			c.Actions[name] = &ActionDef{}
		}
	}
	return nil
}
