package recipeio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPathIsNamespacedUnderCookbookBakeLogs(t *testing.T) {
	got := LogPath("/work/cookbooks/build", "compile")
	assert.Equal(t, filepath.Join("/work/cookbooks/build", ".bake", "logs", "compile.log"), got)
}

func TestWorkDirIsCookbookRoot(t *testing.T) {
	assert.Equal(t, "/work/cookbooks/build", WorkDir("/work/cookbooks/build"))
}

func TestOpenLogCreatesParentDirectoriesAndTruncates(t *testing.T) {
	root := t.TempDir()

	w, path, err := OpenLog(root, "compile", false)
	require.NoError(t, err)
	_, err = w.Write([]byte("first run\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, _, err := OpenLog(root, "compile", false)
	require.NoError(t, err)
	_, err = w2.Write([]byte("second run\n"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second run\n", string(data))
}

func TestOpenLogVerboseFansOutWithoutClosingStdout(t *testing.T) {
	root := t.TempDir()
	w, _, err := OpenLog(root, "compile", true)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
