// Package vars implements Bake's hierarchical variable context (spec.md
// §4.8): built-ins and environment at the root, then project, cookbook, and
// recipe scopes layered on top, each rendered against its parent before
// being parsed, so variables may reference outer-scope variables.
package vars

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trybake/bake/internal/template"
)

// Context is an immutable layer of resolved variables with a pointer to its
// parent. Lookups walk up the chain, so a child's variables shadow its
// parent's.
type Context struct {
	parent *Context
	values map[string]any
}

// Builtins returns the root context: Bake's built-in variables (os, arch)
// plus the process environment under the "env" namespace.
func Builtins() *Context {
	values := map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	env := map[string]any{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return &Context{values: map[string]any{"var": values, "env": env}}
}

// Lookup implements template.Scope: ns "var" resolves through the variable
// chain, ns "env" resolves to the environment map recorded at the root, and
// ns "project"/"cookbook"/"recipe" resolve through whichever ancestor layer
// registered that scope's built-in constants (spec.md §3).
func (c *Context) Lookup(ns template.Namespace, path []string) (any, bool) {
	switch ns {
	case template.NSVar:
		return c.lookupLayer("var", path)
	case template.NSEnv:
		root := c
		for root.parent != nil {
			root = root.parent
		}
		env, _ := root.values["env"].(map[string]any)
		if len(path) == 0 {
			return env, true
		}
		v, ok := env[path[0]]
		return v, ok
	case template.NSProject, template.NSCookbook, template.NSRecipe:
		return c.lookupLayer(string(ns), path)
	default:
		return nil, false
	}
}

// lookupLayer walks from c up through its ancestors looking for key's map at
// each layer, returning the first match. Used for both the "var" namespace
// (child scopes shadow parent variables) and the built-in constant
// namespaces (project/cookbook/recipe), which are each registered once at
// the scope that introduces them and inherited by every descendant.
func (c *Context) lookupLayer(key string, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	for ctx := c; ctx != nil; ctx = ctx.parent {
		layer, _ := ctx.values[key].(map[string]any)
		if v, ok := layer[path[0]]; ok {
			return navigate(v, path[1:])
		}
	}
	return nil, false
}

// WithBuiltinScope layers fields under ns (e.g. "project.root", "project.name")
// onto parent, inherited by every descendant context the way var layers are,
// but addressed through ns instead of "var" (spec.md §3's built-in
// constants: project.root, project.name, cookbook.root, cookbook.name,
// recipe.name, recipe.cookbook).
func WithBuiltinScope(parent *Context, ns template.Namespace, fields map[string]string) *Context {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return &Context{parent: parent, values: map[string]any{string(ns): values}}
}

func navigate(v any, rest []string) (any, bool) {
	cur := v
	for _, key := range rest {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Extend builds a new child context whose `variables:` and `overrides:`
// YAML source blocks are rendered against c (the parent context) and then
// parsed, per spec.md §4.8's layered evaluation. buildEnv selects which key
// of overrides (if any) gets merged onto variables.
func Extend(ctx context.Context, parent *Context, variablesYAML, overridesYAML, buildEnv string) (*Context, error) {
	renderedVars, err := renderYAMLBlock(ctx, variablesYAML, parent)
	if err != nil {
		return nil, fmt.Errorf("vars: render variables block: %w", err)
	}
	renderedOverrides, err := renderYAMLBlock(ctx, overridesYAML, parent)
	if err != nil {
		return nil, fmt.Errorf("vars: render overrides block: %w", err)
	}

	varsMap, err := parseYAMLMap(renderedVars)
	if err != nil {
		return nil, fmt.Errorf("vars: parse variables block: %w", err)
	}
	overridesMap, err := parseYAMLMap(renderedOverrides)
	if err != nil {
		return nil, fmt.Errorf("vars: parse overrides block: %w", err)
	}

	if buildEnv != "" {
		if envOverrides, ok := overridesMap[buildEnv].(map[string]any); ok {
			for k, v := range envOverrides {
				varsMap[k] = v
			}
		}
	}

	return &Context{parent: parent, values: map[string]any{"var": varsMap}}, nil
}

// renderYAMLBlock renders raw YAML source text as a template against
// parent, so expressions like `{{var.base_url}}/v2` inside a variables:
// block resolve before the YAML is structurally parsed.
func renderYAMLBlock(ctx context.Context, src string, parent *Context) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	tmpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	rc := template.NewRenderContext(parent)
	return template.Render(ctx, tmpl, rc)
}

func parseYAMLMap(src string) (map[string]any, error) {
	if strings.TrimSpace(src) == "" {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(src), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return normalizeYAMLValues(raw), nil
}

// normalizeYAMLValues converts yaml.v3's map[string]interface{} decoding
// (which can surface map[interface{}]interface{} for nested maps in older
// decode paths) into plain map[string]any so template lookups see a
// consistent shape.
func normalizeYAMLValues(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLValues(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValues(vv)
		}
		return out
	default:
		return v
	}
}

// WithCLIOverrides merges k=v pairs (from --define/-D) onto a new top-level
// context layer, overriding every prior scope per spec.md §4.8.
func WithCLIOverrides(parent *Context, overrides map[string]string) *Context {
	if len(overrides) == 0 {
		return parent
	}
	values := make(map[string]any, len(overrides))
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values[k] = overrides[k]
	}
	return &Context{parent: parent, values: map[string]any{"var": values}}
}
