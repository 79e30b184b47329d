// Package fingerprint computes a recipe's action key: a single hash that
// changes whenever the recipe's command, inputs, declared environment, or
// transitive dependencies change (spec.md §4.12).
package fingerprint

// Recipe is the resolved, rendered view of a recipe needed to fingerprint
// it. Command is the final rendered shell command. CookbookRoot is the
// absolute directory inputs are resolved against. Inputs are glob patterns
// (cache.inputs); a pattern prefixed with "!" excludes matches from the
// set rather than adding to it. Env carries each declared variable's
// resolved value, or "" if the variable is unset in the execution
// environment. DependsOn lists the recipe's direct dependency FQNs.
type Recipe struct {
	Command      string
	CookbookRoot string
	Inputs       []string
	Env          map[string]string
	DependsOn    []string
}
