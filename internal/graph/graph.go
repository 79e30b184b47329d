// Package graph implements Bake's dependency graph (spec.md §4.11): nodes
// are recipe FQNs, edges are dependency relations, cycle detection runs on
// insert, and selection computes a transitive closure with topological
// execution levels.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Node is one recipe's graph identity: its FQN, the FQNs it depends on
// (already resolved against the owning cookbook), and its tags.
type Node struct {
	FQN       string
	DependsOn []string
	Tags      []string
}

// Graph holds recipe nodes keyed by FQN.
type Graph struct {
	nodes map[string]*Node
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

// Insert adds n to the graph, running incremental cycle detection. On a
// cycle, n is not retained and the error enumerates the FQNs on the cycle.
func (g *Graph) Insert(n Node) error {
	g.nodes[n.FQN] = &n
	if cycle := g.detectCycleFrom(n.FQN); cycle != nil {
		delete(g.nodes, n.FQN)
		return fmt.Errorf("graph: dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// DependsOn returns the declared dependency FQNs for fqn, or nil if fqn is
// not in the graph.
func (g *Graph) DependsOn(fqn string) []string {
	n, ok := g.nodes[fqn]
	if !ok {
		return nil
	}
	return append([]string(nil), n.DependsOn...)
}

// detectCycleFrom runs DFS with white/gray/black coloring starting at
// start, returning the FQNs on a cycle if one is reachable.
func (g *Graph) detectCycleFrom(start string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string

	var dfs func(u string) []string
	dfs = func(u string) []string {
		color[u] = gray
		path = append(path, u)
		if n := g.nodes[u]; n != nil {
			for _, dep := range n.DependsOn {
				switch color[dep] {
				case gray:
					idx := indexOf(path, dep)
					cyc := append([]string{}, path[idx:]...)
					return append(cyc, dep)
				case white:
					if cyc := dfs(dep); cyc != nil {
						return cyc
					}
				}
			}
		}
		color[u] = black
		path = path[:len(path)-1]
		return nil
	}
	return dfs(start)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Closure is the result of Select: the recipes that directly matched the
// selector (after tag filtering) and the full transitive-dependency set.
type Closure struct {
	Selected []string
	All      []string
}

// Select computes the matched set (patterns of the form "cookbook:recipe",
// either half empty or — when regex is set — a regular expression),
// intersects it with tags (if any are given), then transitively closes
// over dependencies, per spec.md §4.11.
func (g *Graph) Select(patterns []string, useRegex bool, tags []string) (Closure, error) {
	var matched []string
	if len(patterns) == 0 {
		for fqn := range g.nodes {
			matched = append(matched, fqn)
		}
	} else {
		seen := map[string]bool{}
		for fqn := range g.nodes {
			for _, pat := range patterns {
				ok, err := matchPattern(fqn, pat, useRegex)
				if err != nil {
					return Closure{}, err
				}
				if ok && !seen[fqn] {
					seen[fqn] = true
					matched = append(matched, fqn)
					break
				}
			}
		}
	}

	if len(tags) > 0 {
		matched = g.filterByTags(matched, tags)
	}
	sort.Strings(matched)

	all := g.closeOverDependencies(matched)
	return Closure{Selected: matched, All: all}, nil
}

func (g *Graph) closeOverDependencies(seed []string) []string {
	inClosure := map[string]bool{}
	stack := append([]string{}, seed...)
	for _, fqn := range seed {
		inClosure[fqn] = true
	}
	for len(stack) > 0 {
		fqn := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := g.nodes[fqn]
		if n == nil {
			continue
		}
		for _, dep := range n.DependsOn {
			if !inClosure[dep] {
				inClosure[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	all := make([]string, 0, len(inClosure))
	for fqn := range inClosure {
		all = append(all, fqn)
	}
	sort.Strings(all)
	return all
}

func (g *Graph) filterByTags(fqns []string, tags []string) []string {
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	var out []string
	for _, fqn := range fqns {
		n := g.nodes[fqn]
		if n == nil {
			continue
		}
		for _, t := range n.Tags {
			if want[t] {
				out = append(out, fqn)
				break
			}
		}
	}
	return out
}

// matchPattern reports whether fqn ("cookbook:recipe") matches pattern,
// splitting both on ":" and matching each half independently; an empty
// half always matches.
func matchPattern(fqn, pattern string, useRegex bool) (bool, error) {
	fc, fr, ok := splitFQN(fqn)
	if !ok {
		return false, fmt.Errorf("graph: malformed fqn %q", fqn)
	}
	pc, pr, ok := splitFQN(pattern)
	if !ok {
		return false, fmt.Errorf("graph: malformed selector %q (want cookbook:recipe)", pattern)
	}
	cookbookOK, err := matchHalf(fc, pc, useRegex)
	if err != nil {
		return false, err
	}
	if !cookbookOK {
		return false, nil
	}
	return matchHalf(fr, pr, useRegex)
}

func matchHalf(value, pattern string, useRegex bool) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	if !useRegex {
		return value == pattern, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false, fmt.Errorf("graph: invalid regex selector %q: %w", pattern, err)
	}
	return re.MatchString(value), nil
}

func splitFQN(s string) (cookbook, recipe string, ok bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// Levels computes Kahn's topological strata over c.All: level 0 holds
// nodes with no unresolved dependency inside the closure; level k+1 holds
// nodes whose dependencies are all in levels ≤ k. Within a level, order is
// unspecified by the algorithm but returned sorted for determinism.
func (g *Graph) Levels(c Closure) ([][]string, error) {
	inClosure := map[string]bool{}
	for _, fqn := range c.All {
		inClosure[fqn] = true
	}

	resolved := map[string]bool{}
	var levels [][]string
	for len(resolved) < len(c.All) {
		var level []string
		for _, fqn := range c.All {
			if resolved[fqn] {
				continue
			}
			if g.allDepsResolved(fqn, inClosure, resolved) {
				level = append(level, fqn)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("graph: cannot compute levels: residual cycle in closure")
		}
		sort.Strings(level)
		levels = append(levels, level)
		for _, fqn := range level {
			resolved[fqn] = true
		}
	}
	return levels, nil
}

func (g *Graph) allDepsResolved(fqn string, inClosure, resolved map[string]bool) bool {
	n := g.nodes[fqn]
	if n == nil {
		return true
	}
	for _, dep := range n.DependsOn {
		if inClosure[dep] && !resolved[dep] {
			return false
		}
	}
	return true
}
