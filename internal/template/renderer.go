package template

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

func renderNodes(ctx context.Context, nodes []node, rc *RenderContext, sb *strings.Builder) error {
	for _, n := range nodes {
		if err := renderNode(ctx, n, rc, sb); err != nil {
			return err
		}
	}
	return nil
}

func renderNode(ctx context.Context, n node, rc *RenderContext, sb *strings.Builder) error {
	switch v := n.(type) {
	case textNode:
		sb.WriteString(v.text)
		return nil
	case exprNode:
		val, err := evalExpr(ctx, v.e, rc)
		if err != nil {
			return err
		}
		sb.WriteString(stringify(val))
		return nil
	case ifNode:
		val, err := evalExpr(ctx, v.cond, rc)
		if err != nil {
			return err
		}
		cond := truthy(val)
		if v.negate {
			cond = !cond
		}
		if cond {
			return renderNodes(ctx, v.body, rc, sb)
		}
		return renderNodes(ctx, v.elseBody, rc, sb)
	case eachNode:
		val, err := evalExpr(ctx, v.collection, rc)
		if err != nil {
			return err
		}
		items, err := asIterable(val)
		if err != nil {
			return err
		}
		for _, item := range items {
			itemScope := &eachItemScope{parent: rc.Scope, item: item}
			itemRC := &RenderContext{Scope: itemScope, Helpers: rc.Helpers, cache: rc.cache}
			if err := renderNodes(ctx, v.body, itemRC, sb); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("template: unknown node type %T", n)
	}
}

func evalExpr(ctx context.Context, e expr, rc *RenderContext) (any, error) {
	if e.isLiteral {
		return e.literal, nil
	}
	if e.helper != "" {
		h, ok := rc.Helpers[e.helper]
		if !ok {
			return nil, fmt.Errorf("template: undefined helper %q", e.helper)
		}
		args := make([]any, len(e.args))
		for i, a := range e.args {
			v, err := evalExpr(ctx, a, rc)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		kwargs := make(map[string]any, len(e.kwargs))
		for k, a := range e.kwargs {
			v, err := evalExpr(ctx, a, rc)
			if err != nil {
				return nil, err
			}
			kwargs[k] = v
		}
		return h(ctx, rc, args, kwargs)
	}
	val, ok := rc.Scope.Lookup(Namespace(e.namespace), e.path)
	if !ok {
		return nil, fmt.Errorf("template: undefined variable %s", exprName(e))
	}
	return val, nil
}

func exprName(e expr) string {
	parts := append([]string{e.namespace}, e.path...)
	return strings.Join(parts, ".")
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return strings.Join(val, " ")
	default:
		return fmt.Sprint(val)
	}
}

func asIterable(v any) ([]any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("template: each requires an array, got %T", v)
	}
}

// eachItemScope layers a single loop-item binding (accessible as "this")
// over the enclosing scope, so {{#each items}}{{this}}{{/each}} works.
type eachItemScope struct {
	parent Scope
	item   any
}

func (s *eachItemScope) Lookup(ns Namespace, path []string) (any, bool) {
	if string(ns) == "this" && len(path) == 0 {
		return s.item, true
	}
	return s.parent.Lookup(ns, path)
}
