// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package schema parses device class manifests and resolves functions across
// their inheritance graph.
package schema

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// LoaderType identifies how a module's code is obtained.
type LoaderType string

// Loader types.
const (
	LoaderOnDisk  LoaderType = "org.thingpedia.v2"
	LoaderBuiltin LoaderType = "org.thingpedia.builtin"
)

// AuthType is the config mixin of a class.
type AuthType string

// Auth types.
const (
	AuthNone   AuthType = "none"
	AuthForm   AuthType = "form"
	AuthOAuth2 AuthType = "oauth2"
)

// DeveloperVersion is the version of manifests read from developer
// directories.
const DeveloperVersion = -1

// FunctionKind distinguishes queries from actions.
type FunctionKind int

// Function kinds.
const (
	Query FunctionKind = iota
	Action
)

func (k FunctionKind) String() string {
	if k == Action {
		return "action"
	}
	return "query"
}

// ClassDef is a parsed device class manifest.
type ClassDef struct {
	Kind       string                `yaml:"kind" jsonschema:"required,minLength=1"`
	Version    int                   `yaml:"version" jsonschema:"minimum=-1"`
	Extends    []string              `yaml:"extends,omitempty"`
	Loader     LoaderDef             `yaml:"loader" jsonschema:"required"`
	Metadata   MetadataDef           `yaml:"metadata,omitempty"`
	Config     ConfigDef             `yaml:"config,omitempty"`
	ChildTypes []string              `yaml:"child_types,omitempty"`
	Queries    map[string]*QueryDef  `yaml:"queries,omitempty"`
	Actions    map[string]*ActionDef `yaml:"actions,omitempty"`

	// Source is the manifest text the definition was parsed from.
	Source string `yaml:"-"`
}

// LoaderDef names the loader strategy.
type LoaderDef struct {
	Type LoaderType `yaml:"type" jsonschema:"required,minLength=1"`
}

// MetadataDef holds display metadata.
type MetadataDef struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Category    string `yaml:"category,omitempty" jsonschema:"enum=physical,enum=online,enum=data,enum=system"`
	// Domain is the translation domain of builtin manifests.
	Domain string `yaml:"domain,omitempty"`
}

// ConfigDef is the config mixin with its parameters.
type ConfigDef struct {
	Type   AuthType       `yaml:"type,omitempty" jsonschema:"enum=none,enum=form,enum=oauth2"`
	Params map[string]any `yaml:"params,omitempty"`
}

// ArgDef declares a function argument.
type ArgDef struct {
	Name     string `yaml:"name" jsonschema:"required,minLength=1"`
	Type     string `yaml:"type,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// QueryDef declares a query.
type QueryDef struct {
	PollInterval *Interval `yaml:"poll_interval,omitempty"`
	Doc          string    `yaml:"doc,omitempty"`
	Args         []ArgDef  `yaml:"args,omitempty"`
}

// Interval returns the declared poll interval. Zero means push-only and a
// negative value means the query cannot be monitored. A query without a
// declared interval cannot be monitored.
func (q *QueryDef) Interval() time.Duration {
	if q == nil || q.PollInterval == nil {
		return -1
	}
	return time.Duration(*q.PollInterval)
}

// ActionDef declares an action.
type ActionDef struct {
	Doc          string   `yaml:"doc,omitempty"`
	Confirmation string   `yaml:"confirmation,omitempty"`
	Args         []ArgDef `yaml:"args,omitempty"`
}

// Interval is a poll interval. Manifests write it as a Go duration string or
// as an integer number of milliseconds.
type Interval time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return oops.In("schema").Errorf("poll_interval must be a scalar")
	}
	if ms, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		if ms < 0 {
			*i = -1
			return nil
		}
		*i = Interval(time.Duration(ms) * time.Millisecond)
		return nil
	}
	d, err := time.ParseDuration(node.Value)
	if err != nil {
		return oops.In("schema").With("value", node.Value).Wrapf(err, "invalid poll_interval")
	}
	if d < 0 {
		d = -1
	}
	*i = Interval(d)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (i Interval) MarshalYAML() (any, error) {
	if i < 0 {
		return -1, nil
	}
	return time.Duration(i).String(), nil
}

// JSONSchema describes the accepted poll_interval forms.
func (Interval) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^-?[0-9]+$`},
			{Type: "integer"},
		},
	}
}

// LoaderType returns the declared loader type.
func (c *ClassDef) LoaderType() LoaderType { return c.Loader.Type }

// AuthType returns the config mixin type, defaulting to none.
func (c *ClassDef) AuthType() AuthType {
	if c.Config.Type == "" {
		return AuthNone
	}
	return c.Config.Type
}

// Query returns the class's own query declaration.
func (c *ClassDef) Query(name string) (*QueryDef, bool) {
	q, ok := c.Queries[name]
	return q, ok
}

// Action returns the class's own action declaration.
func (c *ClassDef) Action(name string) (*ActionDef, bool) {
	a, ok := c.Actions[name]
	return a, ok
}

// Declares reports whether the class itself declares the function.
func (c *ClassDef) Declares(kind FunctionKind, name string) bool {
	if kind == Action {
		_, ok := c.Actions[name]
		return ok
	}
	_, ok := c.Queries[name]
	return ok
}

// Names returns the sorted names of the class's own functions of a kind.
func (c *ClassDef) Names(kind FunctionKind) []string {
	if kind == Action {
		return slices.Sorted(maps.Keys(c.Actions))
	}
	return slices.Sorted(maps.Keys(c.Queries))
}

// Param returns a config parameter.
func (c *ClassDef) Param(key string) (any, bool) {
	v, ok := c.Config.Params[key]
	return v, ok
}

// StringParam returns a string config parameter, or "".
func (c *ClassDef) StringParam(key string) string {
	v, _ := c.Config.Params[key].(string)
	return v
}

// BoolParam returns a boolean config parameter, or false.
func (c *ClassDef) BoolParam(key string) bool {
	v, _ := c.Config.Params[key].(bool)
	return v
}

// StringsParam returns a list config parameter. A single string is returned
// as a one-element list.
func (c *ClassDef) StringsParam(key string) []string {
	switch v := c.Config.Params[key].(type) {
	case string:
		return []string{v}
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// BackfillConfig copies config parameters missing from c out of published,
// and adopts published's config type when c declares none.
func (c *ClassDef) BackfillConfig(published *ClassDef) {
	if published == nil {
		return
	}
	if c.Config.Type == "" {
		c.Config.Type = published.Config.Type
	}
	for key, value := range published.Config.Params {
		if _, ok := c.Config.Params[key]; ok {
			continue
		}
		if c.Config.Params == nil {
			c.Config.Params = make(map[string]any)
		}
		c.Config.Params[key] = value
	}
}

// Translate returns a copy of c with display strings passed through tr.
func (c *ClassDef) Translate(tr func(string) string) *ClassDef {
	out := *c
	out.Metadata.Name = translated(tr, c.Metadata.Name)
	out.Metadata.Description = translated(tr, c.Metadata.Description)
	out.Queries = make(map[string]*QueryDef, len(c.Queries))
	for name, q := range c.Queries {
		cp := *q
		cp.Doc = translated(tr, q.Doc)
		out.Queries[name] = &cp
	}
	out.Actions = make(map[string]*ActionDef, len(c.Actions))
	for name, a := range c.Actions {
		cp := *a
		cp.Doc = translated(tr, a.Doc)
		cp.Confirmation = translated(tr, a.Confirmation)
		out.Actions[name] = &cp
	}
	return &out
}

func translated(tr func(string) string, s string) string {
	if s == "" {
		return s
	}
	return tr(s)
}
