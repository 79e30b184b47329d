// Package errkind classifies Bake's error surface and formats user-facing
// suggestions for each class. It mirrors the taxonomy in spec.md §7:
// Configuration, Template, Graph, Execution, Cache, System.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which subsystem an error originated in, used to decide
// whether a failure is fatal to the run and how to phrase its suggestion.
type Kind int

const (
	// Configuration covers YAML parse errors, schema violations, unknown
	// recipe references, cookbook-name collisions, and minVersion mismatches.
	Configuration Kind = iota
	// Template covers helper failures, undeclared variables, parameter
	// validation, and template-inheritance cycles.
	Template
	// Graph covers cyclic dependencies.
	Graph
	// Execution covers non-zero exits, spawn failures, and missing working
	// directories.
	Execution
	// Cache covers signature mismatches, missing manifest blobs, and
	// remote-tier I/O. Cache errors never abort a run; they degrade to Miss.
	Cache
	// System covers signals and file-descriptor exhaustion.
	System
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Template:
		return "template"
	case Graph:
		return "graph"
	case Execution:
		return "execution"
	case Cache:
		return "cache"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind should abort project loading or
// the whole run, per spec.md §7's propagation policy. Cache errors are never
// fatal: the caller degrades to treating the cache as empty/disabled.
func (k Kind) Fatal() bool {
	switch k {
	case Cache:
		return false
	default:
		return true
	}
}

// Error is Bake's structured error type. Recipe/File/Line are populated when
// the failure can be attributed to a specific location, per spec.md §7's
// "user-visible failures always include ... the file and line of the
// offending config" requirement.
type Error struct {
	Kind    Kind
	Recipe  string // fully qualified recipe name, when applicable
	File    string
	Line    int
	Rule    string // the specific rule violated, e.g. "no self-dependency"
	LogPath string // path to the recipe's log file, for Execution errors
	Cause   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Recipe != "" {
		fmt.Fprintf(&sb, " in %s", e.Recipe)
	}
	if e.File != "" {
		if e.Line > 0 {
			fmt.Fprintf(&sb, " (%s:%d)", e.File, e.Line)
		} else {
			fmt.Fprintf(&sb, " (%s)", e.File)
		}
	}
	if e.Rule != "" {
		fmt.Fprintf(&sb, ": %s", e.Rule)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	if e.LogPath != "" {
		fmt.Fprintf(&sb, " (log: %s)", e.LogPath)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithRecipe returns a copy of e annotated with the recipe FQN.
func (e *Error) WithRecipe(fqn string) *Error {
	c := *e
	c.Recipe = fqn
	return &c
}

// WithLocation returns a copy of e annotated with file/line.
func (e *Error) WithLocation(file string, line int) *Error {
	c := *e
	c.File = file
	c.Line = line
	return &c
}

// WithRule returns a copy of e annotated with the violated rule description.
func (e *Error) WithRule(rule string) *Error {
	c := *e
	c.Rule = rule
	return &c
}

// WithLogPath returns a copy of e annotated with the recipe log file path.
func (e *Error) WithLogPath(path string) *Error {
	c := *e
	c.LogPath = path
	return &c
}

// Of reports whether err (or a wrapped error in its chain) is a *Error of
// the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Suggestions returns possible causes and actionable next steps for err,
// following the same structure as a generic troubleshooting formatter:
// the error text, then "Possible causes", then "Suggestions".
func Suggestions(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(e.Error())
	sb.WriteString("\n")

	switch e.Kind {
	case Configuration:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - YAML syntax error or unknown field in bake.yml/cookbook.yml\n")
		sb.WriteString("  - A recipe dependency references a cookbook or recipe that doesn't exist\n")
		sb.WriteString("  - Two cookbooks declare the same name\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check the file and line named above\n")
		sb.WriteString("  - Run with --force-version-override if this is a minVersion mismatch you accept\n")

	case Template:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A helper's shell command exited non-zero\n")
		sb.WriteString("  - A variable reference has no value in any scope\n")
		sb.WriteString("  - A recipe template's extends chain is cyclic\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Inspect the helper's script under .bake/helpers/\n")
		sb.WriteString("  - Verify the variable is defined in var.*, env.*, or passed with -D\n")

	case Graph:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A cycle exists among the recipes named in the error\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Break the cycle by removing or reversing one dependency edge\n")

	case Execution:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The recipe's command exited non-zero\n")
		sb.WriteString("  - The cookbook's working directory is missing\n")
		sb.WriteString("\nSuggestions:\n")
		if e.LogPath != "" {
			fmt.Fprintf(&sb, "  - Inspect %s for the command's output\n", e.LogPath)
		}
		sb.WriteString("  - Re-run with -v for full command output\n")

	case Cache:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A manifest's HMAC signature did not verify (tampered or re-keyed)\n")
		sb.WriteString("  - A remote tier is unreachable\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - This is non-fatal: the recipe will simply re-run\n")
		sb.WriteString("  - Check BAKE_CACHE_SECRET matches the one used to write the manifest\n")

	case System:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The process received a termination signal\n")
		sb.WriteString("  - The process ran out of file descriptors during a batch blob operation\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Raise the open-file limit (ulimit -n) for large projects\n")
	}

	return sb.String()
}
