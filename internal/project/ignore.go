package project

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

// ignoreRule is one compiled line from a .gitignore-style file.
type ignoreRule struct {
	negate  bool
	dirOnly bool
	g       glob.Glob
	raw     string
}

// ignoreSet accumulates ignore rules discovered while walking a directory
// tree; later rules (deeper .gitignore files) are evaluated after earlier
// ones, matching gitignore's closer-file-wins precedence.
type ignoreSet struct {
	rules []ignoreRule
}

// loadIgnoreFile parses the .gitignore-style file at path, returning an
// empty ignoreSet (not an error) if the file does not exist.
func loadIgnoreFile(path string) (*ignoreSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ignoreSet{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var rules []ignoreRule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		rule := ignoreRule{raw: raw}
		pattern := raw
		if strings.HasPrefix(pattern, "!") {
			rule.negate = true
			pattern = pattern[1:]
		}
		if strings.HasSuffix(pattern, "/") {
			rule.dirOnly = true
			pattern = strings.TrimSuffix(pattern, "/")
		}
		pattern = strings.TrimPrefix(pattern, "/")
		if !strings.Contains(pattern, "/") {
			// "**/" needs a literal slash in gobwas/glob, so match the
			// top-level name alongside any nested one.
			pattern = "{" + pattern + ",**/" + pattern + "}"
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("project: invalid ignore pattern %q: %w", raw, err)
		}
		rule.g = g
		rules = append(rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &ignoreSet{rules: rules}, nil
}

// merge returns the combined rule set of s followed by child's, so a
// nested .gitignore's rules are evaluated after (and can override) the
// parent's.
func (s *ignoreSet) merge(child *ignoreSet) *ignoreSet {
	if s == nil {
		s = &ignoreSet{}
	}
	if child == nil || len(child.rules) == 0 {
		return s
	}
	merged := make([]ignoreRule, 0, len(s.rules)+len(child.rules))
	merged = append(merged, s.rules...)
	merged = append(merged, child.rules...)
	return &ignoreSet{rules: merged}
}

// matches reports whether relPath (slash-separated, relative to the
// directory the rules were loaded from) is ignored. The last matching rule
// wins; a negated rule un-ignores a path an earlier rule ignored.
func (s *ignoreSet) matches(relPath string, isDir bool) bool {
	if s == nil {
		return false
	}
	ignored := false
	for _, r := range s.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.g.Match(relPath) {
			ignored = !r.negate
		}
	}
	return ignored
}
