// Package recipeio provides the executor's per-recipe I/O glue (spec.md
// §4.13 steps 4-5): log file placement, verbose terminal fan-out, and
// working-directory resolution.
package recipeio

import (
	"io"
	"os"
	"path/filepath"
)

// LogPath returns the per-recipe log file path, created lazily and
// truncated on every run: "<cookbook>/.bake/logs/<recipe>.log".
func LogPath(cookbookRoot, recipeName string) string {
	return filepath.Join(cookbookRoot, ".bake", "logs", recipeName+".log")
}

// WorkDir returns the working directory a recipe's shell runs in, which is
// always the cookbook root (spec.md §4.13 step 4).
func WorkDir(cookbookRoot string) string {
	return cookbookRoot
}

// OpenLog creates (truncating) the recipe's log file and, when verbose is
// set, fans writes out to the terminal as well. The caller must Close the
// returned writer when the recipe's process has finished.
func OpenLog(cookbookRoot, recipeName string, verbose bool) (io.WriteCloser, string, error) {
	path := LogPath(cookbookRoot, recipeName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	if !verbose {
		return f, path, nil
	}
	return &fanOutCloser{Writer: io.MultiWriter(f, os.Stdout), file: f}, path, nil
}

// fanOutCloser fans writes out to the terminal alongside the log file but
// only closes the file, since os.Stdout is never ours to close.
type fanOutCloser struct {
	io.Writer
	file *os.File
}

func (c *fanOutCloser) Close() error {
	return c.file.Close()
}
