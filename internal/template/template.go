// Package template implements Bake's logic-enabled string template engine
// (spec.md §4.7): expressions over named namespaces, conditional and
// iteration blocks, and user-registered helpers including shell-executing
// built-ins with an intra-render memoization cache.
package template

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Namespace identifies where an expression's root identifier resolves.
type Namespace string

const (
	NSVar     Namespace = "var"
	NSEnv     Namespace = "env"
	NSProject Namespace = "project"
	NSCookbook Namespace = "cookbook"
	NSRecipe  Namespace = "recipe"
	NSParams  Namespace = "params"
)

// Scope resolves a namespaced identifier to a value. Render asks the scope
// once per expression; implementations typically wrap a vars.Context.
type Scope interface {
	Lookup(ns Namespace, path []string) (any, bool)
}

// Helper is a registered function invocable as {{name arg1 arg2 key=value}}.
// It receives already-rendered positional and keyword arguments and returns
// a string or a []string (for helpers like shell_lines).
type Helper func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error)

// RenderContext carries per-render state: the variable scope, registered
// helpers, and the intra-render memoization cache for shell invocations.
type RenderContext struct {
	Scope   Scope
	Helpers map[string]Helper
	cache   map[string]string
}

// NewRenderContext builds a RenderContext with the built-in helpers
// registered (shell, shell_lines, eq, ne, and, or, not, add, sub).
func NewRenderContext(scope Scope) *RenderContext {
	rc := &RenderContext{Scope: scope, Helpers: map[string]Helper{}, cache: map[string]string{}}
	registerBuiltins(rc)
	return rc
}

// Register adds or overrides a helper.
func (rc *RenderContext) Register(name string, h Helper) {
	rc.Helpers[name] = h
}

// Template is a parsed template, ready to render repeatedly against
// different scopes without re-parsing.
type Template struct {
	nodes []node
	src   string
}

// Parse tokenizes and parses src into a renderable Template.
func Parse(src string) (*Template, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("template: lex: %w", err)
	}
	p := &parser{toks: toks}
	nodes, err := p.parseNodes("")
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}
	if p.pos != len(p.toks)-1 { // parseNodes stops on the final tokEOF without consuming it
		return nil, fmt.Errorf("template: unexpected trailing tokens at position %d", p.pos)
	}
	return &Template{nodes: nodes, src: src}, nil
}

// Render executes the template against rc, returning the resulting string.
func Render(ctx context.Context, t *Template, rc *RenderContext) (string, error) {
	var sb strings.Builder
	if err := renderNodes(ctx, t.nodes, rc, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// registerBuiltins wires the built-in helpers spec.md §4.7 requires.
func registerBuiltins(rc *RenderContext) {
	rc.Register("shell", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		cmdline := joinArgs(args)
		out, err := runShellCached(ctx, rc, cmdline)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(out), nil
	})
	rc.Register("shell_lines", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		cmdline := joinArgs(args)
		out, err := runShellCached(ctx, rc, cmdline)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(out, "\n")
		if trimmed == "" {
			return []string{}, nil
		}
		return strings.Split(trimmed, "\n"), nil
	})
	rc.Register("eq", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		return boolHelper(args, func(a, b any) bool { return fmt.Sprint(a) == fmt.Sprint(b) })
	})
	rc.Register("ne", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		return boolHelper(args, func(a, b any) bool { return fmt.Sprint(a) != fmt.Sprint(b) })
	})
	rc.Register("and", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		for _, a := range args {
			if !truthy(a) {
				return false, nil
			}
		}
		return true, nil
	})
	rc.Register("or", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		for _, a := range args {
			if truthy(a) {
				return true, nil
			}
		}
		return false, nil
	})
	rc.Register("not", func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("template: not takes exactly one argument")
		}
		return !truthy(args[0]), nil
	})
	rc.Register("add", arithmeticHelper(func(a, b float64) float64 { return a + b }))
	rc.Register("sub", arithmeticHelper(func(a, b float64) float64 { return a - b }))
}

func arithmeticHelper(f func(a, b float64) float64) Helper {
	return func(ctx context.Context, rc *RenderContext, args []any, kwargs map[string]any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("template: arithmetic helper takes exactly two arguments")
		}
		a, ok1 := asNumber(args[0])
		b, ok2 := asNumber(args[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("template: arithmetic helper requires numeric arguments")
		}
		result := f(a, b)
		if result == float64(int64(result)) {
			return strconv.FormatInt(int64(result), 10), nil
		}
		return strconv.FormatFloat(result, 'g', -1, 64), nil
	}
}

func boolHelper(args []any, f func(a, b any) bool) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("template: comparison helper takes exactly two arguments")
	}
	return f(args[0], args[1]), nil
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

// runShellCached runs cmdline through sh -c, memoized within this render by
// (command, hash of the current environment) per spec.md §4.7.
func runShellCached(ctx context.Context, rc *RenderContext, cmdline string) (string, error) {
	envKey, _ := rc.Scope.Lookup(NSEnv, nil)
	key := cmdline + "\x00" + fmt.Sprint(envKey)
	if out, ok := rc.cache[key]; ok {
		return out, nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("template: shell helper %q: %w", cmdline, err)
	}
	result := string(out)
	rc.cache[key] = result
	return result, nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []string:
		return len(val) > 0
	case []any:
		return len(val) > 0
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
