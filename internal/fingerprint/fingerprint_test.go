package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trybake/bake/internal/hash"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestComputeChangesWhenCommandChanges(t *testing.T) {
	root := t.TempDir()
	r1 := Recipe{Command: "echo one", CookbookRoot: root}
	r2 := Recipe{Command: "echo two", CookbookRoot: root}

	k1, err := Compute(hash.Blake3, r1, nil)
	require.NoError(t, err)
	k2, err := Compute(hash.Blake3, r2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestComputeIsStableForIdenticalRecipes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.go"), "package main\n")
	r := Recipe{Command: "go build", CookbookRoot: root, Inputs: []string{"src/*.go"}}

	k1, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)
	k2, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestComputeChangesWhenInputContentChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.go"), "package main\n")
	r := Recipe{Command: "go build", CookbookRoot: root, Inputs: []string{"src/*.go"}}

	before, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "src", "main.go"), "package main\n\nfunc main() {}\n")
	after, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestComputeChangesWhenFileRenamedEvenWithSameContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "same content")
	r1 := Recipe{Command: "cat", CookbookRoot: root, Inputs: []string{"a.txt"}}

	k1, err := Compute(hash.Blake3, r1, nil)
	require.NoError(t, err)

	os.Remove(filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "b.txt"), "same content")
	r2 := Recipe{Command: "cat", CookbookRoot: root, Inputs: []string{"b.txt"}}

	k2, err := Compute(hash.Blake3, r2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestComputeRespectsNegativeInputPattern(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "keep.go"), "package main\n")
	writeFile(t, filepath.Join(root, "src", "skip.go"), "package main\n")
	r := Recipe{Command: "go build", CookbookRoot: root, Inputs: []string{"src/*.go", "!src/skip.go"}}

	before, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "src", "skip.go"), "package main\n\n// changed\n")
	after, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestComputeSupportsParentTraversalInPatterns(t *testing.T) {
	root := t.TempDir()
	cookbook := filepath.Join(root, "cookbooks", "build")
	require.NoError(t, os.MkdirAll(cookbook, 0o755))
	writeFile(t, filepath.Join(root, "shared", "lib.go"), "package shared\n")
	r := Recipe{Command: "go build", CookbookRoot: cookbook, Inputs: []string{"../../shared/*.go"}}

	k, err := Compute(hash.Blake3, r, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, k)
}

func TestComputeChangesWhenEnvVarValueChanges(t *testing.T) {
	root := t.TempDir()
	r1 := Recipe{Command: "build", CookbookRoot: root, Env: map[string]string{"TARGET": "amd64"}}
	r2 := Recipe{Command: "build", CookbookRoot: root, Env: map[string]string{"TARGET": "arm64"}}

	k1, err := Compute(hash.Blake3, r1, nil)
	require.NoError(t, err)
	k2, err := Compute(hash.Blake3, r2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestComputeChangesWhenDependencyActionKeyChanges(t *testing.T) {
	root := t.TempDir()
	r := Recipe{Command: "link", CookbookRoot: root, DependsOn: []string{"build:compile"}}

	k1, err := Compute(hash.Blake3, r, map[string]string{"build:compile": "blake3:aaaa"})
	require.NoError(t, err)
	k2, err := Compute(hash.Blake3, r, map[string]string{"build:compile": "blake3:bbbb"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestComputeIsIndependentOfDependsOnOrder(t *testing.T) {
	root := t.TempDir()
	deps := map[string]string{"build:a": "blake3:aaaa", "build:b": "blake3:bbbb"}
	r1 := Recipe{Command: "link", CookbookRoot: root, DependsOn: []string{"build:a", "build:b"}}
	r2 := Recipe{Command: "link", CookbookRoot: root, DependsOn: []string{"build:b", "build:a"}}

	k1, err := Compute(hash.Blake3, r1, deps)
	require.NoError(t, err)
	k2, err := Compute(hash.Blake3, r2, deps)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestComputeErrorsOnMissingDependencyActionKey(t *testing.T) {
	root := t.TempDir()
	r := Recipe{Command: "link", CookbookRoot: root, DependsOn: []string{"build:missing"}}
	_, err := Compute(hash.Blake3, r, map[string]string{})
	assert.Error(t, err)
}
