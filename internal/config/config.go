// Package config centralizes Bake's ambient, non-CLI configuration: the
// environment variables consumed by the core per spec.md §6, their defaults,
// and the on-disk layout under a project's .bake directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvCacheSecret is the environment variable holding the HMAC secret used
	// to sign and verify action-cache manifests. Its absence disables the
	// cache entirely (spec.md §4.5).
	EnvCacheSecret = "BAKE_CACHE_SECRET"

	// EnvCacheDir overrides the local cache root (default: <project>/.bake/cache).
	EnvCacheDir = "BAKE_CACHE_DIR"

	// EnvMaxParallel overrides config.maxParallel from bake.yml.
	EnvMaxParallel = "BAKE_MAX_PARALLEL"

	// EnvReservedThreads overrides config.reservedThreads from bake.yml.
	EnvReservedThreads = "BAKE_RESERVED_THREADS"

	// EnvCI and EnvGithubActions suppress behavior that assumes an
	// interactive terminal (self-update checks, the progress renderer);
	// both are external collaborators per spec.md §1 but the core still
	// reads them to decide whether to run non-interactively.
	EnvCI            = "CI"
	EnvGithubActions = "GITHUB_ACTIONS"

	// DefaultBlobCompressionLevelLocal and DefaultBlobCompressionLevelRemote
	// name zstd levels for the local and remote tiers. The blob stores do not
	// read them: every tier encodes at internal/blobstore's zstdLevel (3).
	DefaultBlobCompressionLevelLocal  = 1
	DefaultBlobCompressionLevelRemote = 3

	// DefaultChunkThreshold is a blob size (bytes) for FastCDC chunking
	// (spec.md §4.4). The blob stores do not read it; they chunk every blob
	// at or above internal/blobstore's own chunkThreshold (256 KiB).
	DefaultChunkThreshold = 10 * 1024 * 1024

	// DefaultChunkMin/Avg/Max are FastCDC's three-zone target sizes.
	DefaultChunkMin = 2 * 1024
	DefaultChunkAvg = 8 * 1024
	DefaultChunkMax = 64 * 1024
)

// CurrentVersion is Bake's own version, checked against a project's
// declared config.minVersion (spec.md §4.10's version-mismatch validation).
const CurrentVersion = "1.0.0"

// IsNonInteractive reports whether CI or GITHUB_ACTIONS is set, matching how
// the update subsystem (out of scope) decides to suppress release polling.
func IsNonInteractive() bool {
	return os.Getenv(EnvCI) != "" || os.Getenv(EnvGithubActions) != ""
}

// CacheSecret returns the configured HMAC secret and whether one was set.
// There is no insecure fallback: an empty secret means signing/verification
// must be skipped and the cache treated as disabled (spec.md §4.5).
func CacheSecret() (string, bool) {
	v := os.Getenv(EnvCacheSecret)
	return v, v != ""
}

// GetMaxParallel reads BAKE_MAX_PARALLEL, falling back to def (the value
// configured in bake.yml, or runtime.NumCPU()-based default upstream).
// Invalid or non-positive values are ignored with a warning.
func GetMaxParallel(def int) int {
	envValue := os.Getenv(EnvMaxParallel)
	if envValue == "" {
		return def
	}
	n, err := strconv.Atoi(envValue)
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using %d\n", EnvMaxParallel, envValue, def)
		return def
	}
	return n
}

// GetReservedThreads reads BAKE_RESERVED_THREADS, falling back to def.
func GetReservedThreads(def int) int {
	envValue := os.Getenv(EnvReservedThreads)
	if envValue == "" {
		return def
	}
	n, err := strconv.Atoi(envValue)
	if err != nil || n < 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using %d\n", EnvReservedThreads, envValue, def)
		return def
	}
	return n
}

// ParseByteSize parses a human-readable byte size string into bytes.
// Accepts plain numbers (52428800), KB/K, MB/M, GB/G suffixes,
// case-insensitive. Used for cache.sizeLimit-style config fields.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	s = strings.ToUpper(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr, suffix string
	for i, c := range s {
		if c >= '0' && c <= '9' || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}
	return int64(num * multiplier), nil
}

// ParseDurationClamped parses envValue as a duration, warning and returning
// def on failure, and clamping the result to [min, max].
func ParseDurationClamped(envName, envValue string, def, min, max time.Duration) time.Duration {
	if envValue == "" {
		return def
	}
	d, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", envName, envValue, def)
		return def
	}
	if d < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", envName, d, min)
		return min
	}
	if d > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", envName, d, max)
		return max
	}
	return d
}

// Layout describes the persisted state layout under a project root, per
// spec.md §6's "Persisted state layout" section.
type Layout struct {
	ProjectRoot string // the directory containing bake.yml
	BakeDir     string // <root>/.bake
	CacheDir    string // <root>/.bake/cache (overridable by BAKE_CACHE_DIR)
	BlobsDir    string // <cache>/blobs
	IndexPath   string // <cache>/index.sqlite
	ACDir       string // <cache>/ac
	HelpersDir  string // <root>/.bake/helpers
	TemplatesDir string // <root>/.bake/templates
}

// NewLayout derives the on-disk layout for a project rooted at root.
func NewLayout(root string) *Layout {
	bakeDir := filepath.Join(root, ".bake")
	cacheDir := os.Getenv(EnvCacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(bakeDir, "cache")
	}
	return &Layout{
		ProjectRoot:  root,
		BakeDir:      bakeDir,
		CacheDir:     cacheDir,
		BlobsDir:     filepath.Join(cacheDir, "blobs"),
		IndexPath:    filepath.Join(cacheDir, "index.sqlite"),
		ACDir:        filepath.Join(cacheDir, "ac"),
		HelpersDir:   filepath.Join(bakeDir, "helpers"),
		TemplatesDir: filepath.Join(bakeDir, "templates"),
	}
}

// EnsureDirectories creates the cache directories needed for a run.
func (l *Layout) EnsureDirectories() error {
	for _, dir := range []string{l.BakeDir, l.CacheDir, l.BlobsDir, l.ACDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPath returns the per-recipe log file path for a recipe belonging to the
// cookbook at cookbookRoot, per spec.md §6 ("logs/<recipe_name>.log").
func LogPath(cookbookRoot, recipeName string) string {
	return filepath.Join(cookbookRoot, ".bake", "logs", recipeName+".log")
}
