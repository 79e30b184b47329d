package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trybake/bake/internal/recipetemplate"
)

func TestHelperAsTemplateHelperBindsPositionalArgs(t *testing.T) {
	h := &Helper{
		Name:       "greet",
		Parameters: []recipetemplate.Parameter{{Name: "who", Type: recipetemplate.TypeString, Required: true}},
		Body:       "echo hello {{params.who}}",
		Returns:    "string",
	}
	fn, err := h.AsTemplateHelper()
	require.NoError(t, err)

	out, err := fn(context.Background(), nil, []any{"world"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestHelperAsTemplateHelperMissingRequiredParameterErrors(t *testing.T) {
	h := &Helper{
		Name:       "greet",
		Parameters: []recipetemplate.Parameter{{Name: "who", Type: recipetemplate.TypeString, Required: true}},
		Body:       "echo hi",
	}
	fn, err := h.AsTemplateHelper()
	require.NoError(t, err)

	_, err = fn(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

func TestHelperReturnsArraySplitsLines(t *testing.T) {
	h := &Helper{
		Name:    "lines",
		Body:    "printf 'a\\nb\\nc'",
		Returns: "array",
	}
	fn, err := h.AsTemplateHelper()
	require.NoError(t, err)

	out, err := fn(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestRestrictedEnvOnlyIncludesDeclaredNames(t *testing.T) {
	t.Setenv("BAKE_PROJECT_TEST_A", "1")
	t.Setenv("BAKE_PROJECT_TEST_B", "2")

	env := restrictedEnv([]string{"BAKE_PROJECT_TEST_A"})
	assert.Contains(t, env, "BAKE_PROJECT_TEST_A=1")
	for _, kv := range env {
		assert.NotContains(t, kv, "BAKE_PROJECT_TEST_B")
	}
}
