package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadIgnoreFileMatchesUnanchoredPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".gitignore"), "*.log\nbuild/\n")

	set, err := loadIgnoreFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)

	assert.True(t, set.matches("debug.log", false))
	assert.True(t, set.matches("build", true))
	assert.False(t, set.matches("build", false))
	assert.False(t, set.matches("main.go", false))
}

func TestIgnoreSetNegationUnignores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".gitignore"), "*.log\n!keep.log\n")

	set, err := loadIgnoreFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)

	assert.True(t, set.matches("debug.log", false))
	assert.False(t, set.matches("keep.log", false))
}

func TestIgnoreSetMergeAppliesChildAfterParent(t *testing.T) {
	parentDir := t.TempDir()
	writeFile(t, filepath.Join(parentDir, ".gitignore"), "*.tmp\n")
	parent, err := loadIgnoreFile(filepath.Join(parentDir, ".gitignore"))
	require.NoError(t, err)

	childDir := t.TempDir()
	writeFile(t, filepath.Join(childDir, ".gitignore"), "!keep.tmp\n")
	child, err := loadIgnoreFile(filepath.Join(childDir, ".gitignore"))
	require.NoError(t, err)

	merged := parent.merge(child)
	assert.True(t, merged.matches("scratch.tmp", false))
	assert.False(t, merged.matches("keep.tmp", false))
}

func TestWalkCookbooksSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "vendor/\n")
	writeFile(t, filepath.Join(root, "cookbooks/build/cookbook.yml"), "name: build\n")
	writeFile(t, filepath.Join(root, "vendor/cookbook.yml"), "name: vendored\n")
	writeFile(t, filepath.Join(root, ".git/cookbook.yml"), "name: gitdir\n")

	found, err := walkCookbooks(root)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, filepath.Join(root, "cookbooks/build/cookbook.yml"), found[0])
}
