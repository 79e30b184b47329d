package project

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\nconfig:\n  max_parallel: 4\n")
	writeFile(t, filepath.Join(root, "cookbooks/build/cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  compile:\n"+
		"    run: \"echo compiling\"\n"+
		"  test:\n"+
		"    run: \"echo testing\"\n"+
		"    depends_on: [compile]\n")
	return root
}

func TestLoadDiscoversProjectAndCookbooks(t *testing.T) {
	root := writeProjectTree(t)

	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, 4, p.Config.MaxParallel)
	require.Len(t, p.Cookbooks, 1)
	assert.Equal(t, "build", p.Cookbooks[0].Name)
	assert.Len(t, p.Cookbooks[0].Recipes, 2)
}

func TestLoadWorksFromNestedSubdirectory(t *testing.T) {
	root := writeProjectTree(t)
	nested := filepath.Join(root, "cookbooks", "build")

	p, err := Load(context.Background(), nested, Options{})
	require.NoError(t, err)
	assert.Equal(t, root, p.Root)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, "cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  test:\n"+
		"    run: \"echo testing\"\n"+
		"    depends_on: [missing]\n")

	_, err := Load(context.Background(), root, Options{})
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateCookbookNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, "a/cookbook.yml"), "name: shared\nrecipes: {}\n")
	writeFile(t, filepath.Join(root, "b/cookbook.yml"), "name: shared\nrecipes: {}\n")

	_, err := Load(context.Background(), root, Options{})
	assert.Error(t, err)
}

func TestLoadRejectsMinVersionMismatchUnlessForced(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\nconfig:\n  min_version: \"999.0.0\"\n")

	_, err := Load(context.Background(), root, Options{})
	assert.Error(t, err)

	p, err := Load(context.Background(), root, Options{ForceVersionOverride: true})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
}

func TestFullLoadRendersRunCommands(t *testing.T) {
	root := writeProjectTree(t)
	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	cb := p.CookbookByName("build")
	require.NotNil(t, cb)
	require.NoError(t, cb.FullLoad(context.Background(), p))

	assert.Equal(t, "echo compiling", cb.Recipes["compile"].Run)
	assert.Equal(t, "echo testing", cb.Recipes["test"].Run)
}

func TestFullLoadResolvesBuiltinNamespaces(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, "build/cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  compile:\n"+
		"    run: \"echo {{project.name}} {{cookbook.name}} {{recipe.name}} {{recipe.cookbook}}\"\n")

	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	cb := p.CookbookByName("build")
	require.NotNil(t, cb)
	require.NoError(t, cb.FullLoad(context.Background(), p))
	assert.Equal(t, "echo demo build compile build", cb.Recipes["compile"].Run)
}

func TestFullLoadIsIdempotent(t *testing.T) {
	root := writeProjectTree(t)
	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	cb := p.CookbookByName("build")
	require.NoError(t, cb.FullLoad(context.Background(), p))
	require.NoError(t, cb.FullLoad(context.Background(), p))
	assert.True(t, cb.IsFull())
}

func TestDiscoverCookbookRejectsBothRunAndTemplate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, "cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  bad:\n"+
		"    run: \"echo hi\"\n"+
		"    template: \"some-template\"\n")

	_, err := Load(context.Background(), root, Options{})
	assert.Error(t, err)
}

func TestLoadTemplatesParsesTOMLVariant(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, ".bake/templates/greet.toml"), ""+
		"name = \"greet\"\n\n"+
		"[[parameters]]\n"+
		"name = \"who\"\n"+
		"type = \"string\"\n"+
		"required = true\n\n"+
		"[body]\n"+
		"command = \"echo hello {{params.who}}\"\n")
	writeFile(t, filepath.Join(root, "cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  greet:\n"+
		"    template: greet\n"+
		"    params:\n"+
		"      who: world\n")

	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	cb := p.CookbookByName("build")
	require.NotNil(t, cb)
	require.NoError(t, cb.FullLoad(context.Background(), p))
	assert.Equal(t, "echo hello world", cb.Recipes["greet"].Run)
}

func TestDiscoverCookbookEvaluatesWhenGate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bake.yml"), "name: demo\nvariables:\n  enabled: \"true\"\n")
	writeFile(t, filepath.Join(root, "cookbook.yml"), ""+
		"name: build\n"+
		"recipes:\n"+
		"  gated:\n"+
		"    run: \"echo hi\"\n"+
		"    when: \"{{var.enabled}}\"\n")

	p, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.True(t, p.Cookbooks[0].Recipes["gated"].Enabled)
}
