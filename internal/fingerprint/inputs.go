package fingerprint

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

type compiledPattern struct {
	g   glob.Glob
	neg bool
}

// ExpandGlobs resolves cache.inputs/cache.outputs glob patterns against
// root, supporting negative patterns ("!pattern") and relative traversal
// ("../shared/..."), and returns the matched absolute file paths sorted
// lexicographically. Exported so callers outside this package (the
// executor's declared-output resolution) can expand output globs the same
// way recipe inputs are expanded.
func ExpandGlobs(root string, patterns []string) ([]string, error) {
	return expandInputs(root, patterns)
}

// expandInputs resolves cache.inputs glob patterns against cookbookRoot,
// supporting negative patterns ("!pattern") and relative traversal
// ("../shared/..."), and returns the matched absolute file paths sorted
// lexicographically.
func expandInputs(cookbookRoot string, patterns []string) ([]string, error) {
	var compiled []compiledPattern
	walkRoots := map[string]bool{}

	for _, raw := range patterns {
		neg := strings.HasPrefix(raw, "!")
		pat := strings.TrimPrefix(raw, "!")

		abs := filepath.Clean(filepath.Join(cookbookRoot, pat))
		g, err := glob.Compile(abs, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: invalid input pattern %q: %w", raw, err)
		}
		compiled = append(compiled, compiledPattern{g: g, neg: neg})
		if !neg {
			walkRoots[walkRootFor(abs)] = true
		}
	}

	matched := map[string]bool{}
	for root := range walkRoots {
		if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			matched[path] = matchesPositive(compiled, path)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("fingerprint: walking %q: %w", root, err)
		}
	}

	var out []string
	for path, ok := range matched {
		if ok && !excludedByNegative(compiled, path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchesPositive(compiled []compiledPattern, path string) bool {
	for _, c := range compiled {
		if !c.neg && c.g.Match(path) {
			return true
		}
	}
	return false
}

func excludedByNegative(compiled []compiledPattern, path string) bool {
	for _, c := range compiled {
		if c.neg && c.g.Match(path) {
			return true
		}
	}
	return false
}

// walkRootFor returns the deepest ancestor directory of an absolute,
// cleaned glob pattern that itself contains no glob metacharacters, so
// only the relevant subtree is walked.
func walkRootFor(pattern string) string {
	dir := filepath.Dir(pattern)
	for hasMeta(dir) {
		dir = filepath.Dir(dir)
		if dir == "." || dir == string(filepath.Separator) {
			break
		}
	}
	return dir
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[]{}")
}
