package project

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/trybake/bake/internal/recipetemplate"
	"github.com/trybake/bake/internal/template"
)

// Helper is a user-defined template function compiled from a YAML
// declaration under .bake/helpers/<name>.yml (spec.md's Custom Helper).
// Its filename stem must equal Name.
type Helper struct {
	Name       string
	Parameters []recipetemplate.Parameter
	Variables  map[string]any
	Env        []string
	Returns    string // "string" (default) or "array"
	Body       string
}

// helperScope exposes only params.* and a helper's own var.* to its body's
// render, per the Custom Helper's declared-variable-only scope.
type helperScope struct {
	params map[string]any
	vars   map[string]any
}

func (s helperScope) Lookup(ns template.Namespace, path []string) (any, bool) {
	var root map[string]any
	switch ns {
	case template.NSParams:
		root = s.params
	case template.NSVar:
		root = s.vars
	default:
		return nil, false
	}
	if len(path) == 0 {
		return root, true
	}
	var cur any = root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// AsTemplateHelper compiles h into a template.Helper closure: positional and
// keyword invocation arguments bind to h's declared parameters, the body
// renders against that binding plus h's own variables, and the rendered
// text runs as a shell command against an environment restricted to h.Env.
func (h *Helper) AsTemplateHelper() (template.Helper, error) {
	body, err := template.Parse(h.Body)
	if err != nil {
		return nil, fmt.Errorf("project: helper %q: parse body: %w", h.Name, err)
	}
	return func(ctx context.Context, _ *template.RenderContext, args []any, kwargs map[string]any) (any, error) {
		bindings, err := h.bind(args, kwargs)
		if err != nil {
			return nil, err
		}
		scope := helperScope{params: bindings, vars: h.Variables}
		rc := template.NewRenderContext(scope)
		rendered, err := template.Render(ctx, body, rc)
		if err != nil {
			return nil, fmt.Errorf("project: helper %q: render body: %w", h.Name, err)
		}
		return h.run(ctx, rendered)
	}, nil
}

func (h *Helper) bind(args []any, kwargs map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(h.Parameters))
	for i, p := range h.Parameters {
		switch {
		case i < len(args):
			bound[p.Name] = args[i]
		default:
			if v, ok := kwargs[p.Name]; ok {
				bound[p.Name] = v
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("project: helper %q missing required parameter %q", h.Name, p.Name)
			}
			bound[p.Name] = p.Default
		}
	}
	return bound, nil
}

// run executes script via sh -c with an environment restricted to h.Env,
// returning a trimmed string or (for Returns == "array") its lines.
func (h *Helper) run(ctx context.Context, script string) (any, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = restrictedEnv(h.Env)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("project: helper %q exited non-zero: %w", h.Name, err)
	}
	trimmed := strings.TrimSpace(string(out))
	if h.Returns == "array" {
		if trimmed == "" {
			return []string{}, nil
		}
		return strings.Split(trimmed, "\n"), nil
	}
	return trimmed, nil
}

// restrictedEnv builds a minimal environment containing only the process's
// current values for the declared names, per the Custom Helper invariant
// that its environment view is restricted to its declared variables.
func restrictedEnv(names []string) []string {
	env := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}
