package template

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapScope map[string]any

func (m mapScope) Lookup(ns Namespace, path []string) (any, bool) {
	key := string(ns)
	for _, p := range path {
		key += "." + p
	}
	v, ok := m[key]
	return v, ok
}

func renderString(t *testing.T, src string, scope Scope) string {
	t.Helper()
	tmpl, err := Parse(src)
	require.NoError(t, err)
	out, err := Render(context.Background(), tmpl, NewRenderContext(scope))
	require.NoError(t, err)
	return out
}

func TestRenderSimpleVariableExpression(t *testing.T) {
	out := renderString(t, "hello {{var.name}}!", mapScope{"var.name": "world"})
	assert.Equal(t, "hello world!", out)
}

func TestRenderIfTrueBranch(t *testing.T) {
	out := renderString(t, "{{#if var.enabled}}on{{/if}}", mapScope{"var.enabled": true})
	assert.Equal(t, "on", out)
}

func TestRenderIfFalseTakesElseBranch(t *testing.T) {
	out := renderString(t, "{{#if var.enabled}}on{{else}}off{{/if}}", mapScope{"var.enabled": false})
	assert.Equal(t, "off", out)
}

func TestRenderUnlessNegatesCondition(t *testing.T) {
	out := renderString(t, "{{#unless var.enabled}}disabled{{/unless}}", mapScope{"var.enabled": false})
	assert.Equal(t, "disabled", out)
}

func TestRenderEachIteratesCollection(t *testing.T) {
	out := renderString(t, "{{#each var.items}}[{{this}}]{{/each}}", mapScope{"var.items": []string{"a", "b", "c"}})
	assert.Equal(t, "[a][b][c]", out)
}

func TestRenderEqHelperWithoutParens(t *testing.T) {
	out := renderString(t, "{{#if eq var.x \"1\"}}match{{else}}no{{/if}}", mapScope{"var.x": "1"})
	assert.Equal(t, "match", out)
}

func TestRenderUndefinedVariableErrors(t *testing.T) {
	tmpl, err := Parse("{{var.missing}}")
	require.NoError(t, err)
	_, err = Render(context.Background(), tmpl, NewRenderContext(mapScope{}))
	assert.Error(t, err)
}

func TestShellHelperRunsCommand(t *testing.T) {
	out := renderString(t, "{{shell \"echo hi\"}}", mapScope{"env.": ""})
	assert.Equal(t, "hi", out)
}

func TestShellHelperIsMemoizedWithinARender(t *testing.T) {
	// Both invocations of the same command should hit the intra-render
	// cache and report the same subshell PID rather than spawning twice.
	out := renderString(t, `{{shell "echo $$"}}-{{shell "echo $$"}}`, mapScope{})
	halves := strings.SplitN(out, "-", 2)
	require.Len(t, halves, 2)
	assert.Equal(t, halves[0], halves[1])
}

func TestShellLinesHelperSplitsOutput(t *testing.T) {
	out := renderString(t, "{{#each shell_lines \"printf 'a\\nb\\nc'\"}}<{{this}}>{{/each}}", mapScope{})
	assert.Equal(t, "<a><b><c>", out)
}

func TestAddHelper(t *testing.T) {
	out := renderString(t, "{{add \"2\" \"3\"}}", mapScope{})
	assert.Equal(t, "5", out)
}
