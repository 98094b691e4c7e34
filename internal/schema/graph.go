// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package schema

import (
	"log/slog"
	"maps"
	"slices"
)

// Graph is an arena of class definitions with index-based parent
// references. The root class is always at index 0.
type Graph struct {
	nodes   []*ClassDef
	parents [][]int
	index   map[string]int
	missing map[string][]string
}

// NewGraph builds the inheritance graph of root over the loaded parent
// definitions. Parents named in an extends list but not loaded are skipped
// with a warning.
func NewGraph(root *ClassDef, parents map[string]*ClassDef, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Graph{
		index:   make(map[string]int, len(parents)+1),
		missing: make(map[string][]string),
	}
	g.add(root)
	for _, kind := range slices.Sorted(maps.Keys(parents)) {
		if kind == root.Kind {
			continue
		}
		g.add(parents[kind])
	}

	g.parents = make([][]int, len(g.nodes))
	for i, node := range g.nodes {
		for _, parent := range node.Extends {
			idx, ok := g.index[parent]
			if !ok {
				g.missing[node.Kind] = append(g.missing[node.Kind], parent)
				logger.Warn("parent class not loaded, skipping",
					"kind", node.Kind,
					"parent", parent)
				continue
			}
			g.parents[i] = append(g.parents[i], idx)
		}
	}
	return g
}

func (g *Graph) add(def *ClassDef) {
	g.index[def.Kind] = len(g.nodes)
	g.nodes = append(g.nodes, def)
}

// Root returns the root class definition.
func (g *Graph) Root() *ClassDef { return g.nodes[0] }

// Class returns the definition of kind if it is part of the graph.
func (g *Graph) Class(kind string) (*ClassDef, bool) {
	idx, ok := g.index[kind]
	if !ok {
		return nil, false
	}
	return g.nodes[idx], true
}

// Missing returns the parents of kind that were declared but not loaded.
func (g *Graph) Missing(kind string) []string { return slices.Clone(g.missing[kind]) }

// walk visits kind and then its ancestors depth-first, each at most once,
// until visit returns false.
func (g *Graph) walk(kind string, visit func(*ClassDef) bool) {
	start, ok := g.index[kind]
	if !ok {
		return
	}
	visited := make([]bool, len(g.nodes))
	var dfs func(int) bool
	dfs = func(i int) bool {
		if visited[i] {
			return true
		}
		visited[i] = true
		if !visit(g.nodes[i]) {
			return false
		}
		for _, p := range g.parents[i] {
			if !dfs(p) {
				return false
			}
		}
		return true
	}
	dfs(start)
}

// Resolve finds the class that declares the named function, starting at kind
// and walking its parents depth-first.
func (g *Graph) Resolve(kind string, fnKind FunctionKind, name string) (*ClassDef, bool) {
	var found *ClassDef
	g.walk(kind, func(def *ClassDef) bool {
		if def.Declares(fnKind, name) {
			found = def
			return false
		}
		return true
	})
	return found, found != nil
}

// Functions lists the sorted names of the functions of a kind declared by
// kind or any of its ancestors.
func (g *Graph) Functions(kind string, fnKind FunctionKind) []string {
	seen := make(map[string]struct{})
	g.walk(kind, func(def *ClassDef) bool {
		for _, name := range def.Names(fnKind) {
			seen[name] = struct{}{}
		}
		return true
	})
	return slices.Sorted(maps.Keys(seen))
}

// QueryDef resolves the declaration of a query through the graph.
func (g *Graph) QueryDef(kind, name string) (*QueryDef, bool) {
	owner, ok := g.Resolve(kind, Query, name)
	if !ok {
		return nil, false
	}
	return owner.Query(name)
}

// ActionDef resolves the declaration of an action through the graph.
func (g *Graph) ActionDef(kind, name string) (*ActionDef, bool) {
	owner, ok := g.Resolve(kind, Action, name)
	if !ok {
		return nil, false
	}
	return owner.Action(name)
}
