// Package recipetemplate implements Bake's recipe-template system (spec.md
// §4.9): named, inheritable templates with typed parameters that expand
// into concrete recipe specs.
package recipetemplate

import (
	"context"
	"fmt"

	"github.com/trybake/bake/internal/template"
)

// ParamType is one of the supported parameter kinds.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one template parameter's type and constraints.
type Parameter struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any

	Pattern string   // string: optional regex
	Min     *float64 // number: optional min
	Max     *float64 // number: optional max

	Items *Parameter             // array: item schema
	Props map[string]*Parameter  // object: optional nested schema
}

// Template is a named, parameterized recipe template.
type Template struct {
	Name        string
	Extends     string
	Parameters  []Parameter
	Body        map[string]any // raw recipe fields: command, cache, variables, environment, etc.
}

// Registry holds templates by name for inheritance resolution.
type Registry struct {
	templates map[string]*Template
}

func NewRegistry(templates []*Template) *Registry {
	m := make(map[string]*Template, len(templates))
	for _, t := range templates {
		m[t.Name] = t
	}
	return &Registry{templates: m}
}

// Resolve walks the Extends chain for name, detecting cycles, and returns
// the fully-collapsed template: merged parameters (child overrides parent
// by name) and merged body (top-level child-overrides-parent, but cache/
// variables/environment merged field-wise additive per spec.md §4.9 step 3).
func (r *Registry) Resolve(name string) (*Template, error) {
	chain, err := r.chain(name, nil)
	if err != nil {
		return nil, err
	}
	// chain is root-first; fold child (later) over parent (earlier).
	merged := &Template{Name: name}
	paramsByName := map[string]Parameter{}
	body := map[string]any{}
	for _, t := range chain {
		for _, p := range t.Parameters {
			paramsByName[p.Name] = p
		}
		mergeBody(body, t.Body)
	}
	for _, p := range paramsByName {
		merged.Parameters = append(merged.Parameters, p)
	}
	merged.Body = body
	return merged, nil
}

// chain builds the root-to-leaf inheritance chain for name, detecting
// cycles by tracking the set of names visited on the current path.
func (r *Registry) chain(name string, visiting []string) ([]*Template, error) {
	for _, v := range visiting {
		if v == name {
			return nil, fmt.Errorf("recipetemplate: inheritance cycle detected: %v -> %s", visiting, name)
		}
	}
	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("recipetemplate: unknown template %q", name)
	}
	visiting = append(visiting, name)
	if t.Extends == "" {
		return []*Template{t}, nil
	}
	parentChain, err := r.chain(t.Extends, visiting)
	if err != nil {
		return nil, err
	}
	return append(parentChain, t), nil
}

const (
	fieldCache       = "cache"
	fieldVariables   = "variables"
	fieldEnvironment = "environment"
)

// mergeBody applies child over base: additive fields merge key-wise,
// everything else is a straight overwrite.
func mergeBody(base map[string]any, child map[string]any) {
	for _, field := range []string{fieldCache, fieldVariables, fieldEnvironment} {
		childVal, ok := child[field]
		if !ok {
			continue
		}
		childMap, ok := childVal.(map[string]any)
		if !ok {
			base[field] = childVal
			continue
		}
		baseMap, ok := base[field].(map[string]any)
		if !ok {
			baseMap = map[string]any{}
		}
		merged := map[string]any{}
		for k, v := range baseMap {
			merged[k] = v
		}
		for k, v := range childMap {
			merged[k] = v
		}
		base[field] = merged
	}
	for k, v := range child {
		if k == fieldCache || k == fieldVariables || k == fieldEnvironment {
			continue
		}
		base[k] = v
	}
}

// Validate checks bindings against t's merged parameters, returning
// defaults applied for any missing optional parameter.
func Validate(t *Template, bindings map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		v, given := bindings[p.Name]
		if !given {
			if p.Required {
				return nil, fmt.Errorf("recipetemplate: missing required parameter %q", p.Name)
			}
			v = p.Default
		}
		if given {
			if err := validateValue(p, v); err != nil {
				return nil, err
			}
		}
		out[p.Name] = v
	}
	return out, nil
}

// Instantiate renders t's body with a restricted scope exposing only
// params.* (spec.md §4.9 step 5: no var.*, env.*, or the shell helper).
func Instantiate(ctx context.Context, t *Template, bindings map[string]any) (map[string]any, error) {
	validated, err := Validate(t, bindings)
	if err != nil {
		return nil, err
	}
	scope := paramsScope(validated)
	out := make(map[string]any, len(t.Body))
	for k, v := range t.Body {
		rendered, err := renderValue(ctx, v, scope)
		if err != nil {
			return nil, fmt.Errorf("recipetemplate: render field %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(ctx context.Context, v any, scope template.Scope) (any, error) {
	switch val := v.(type) {
	case string:
		tmpl, err := template.Parse(val)
		if err != nil {
			return nil, err
		}
		rc := restrictedRenderContext(scope)
		return template.Render(ctx, tmpl, rc)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			rv, err := renderValue(ctx, vv, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			rv, err := renderValue(ctx, vv, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// restrictedRenderContext builds a RenderContext exposing only the
// comparison, boolean and arithmetic helpers, deliberately omitting shell and shell_lines
// so template expansion stays context-free and side-effect free.
func restrictedRenderContext(scope template.Scope) *template.RenderContext {
	rc := template.NewRenderContext(scope)
	delete(rc.Helpers, "shell")
	delete(rc.Helpers, "shell_lines")
	return rc
}

type paramsScope map[string]any

func (s paramsScope) Lookup(ns template.Namespace, path []string) (any, bool) {
	if ns != template.NSParams || len(path) == 0 {
		return nil, false
	}
	cur, ok := s[path[0]]
	if !ok {
		return nil, false
	}
	for _, key := range path[1:] {
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
