// Package project implements Bake's project loader (spec.md §4.10): upward
// bake.yml discovery, ignore-aware cookbook.yml discovery, helper/template
// loading, and two-phase (discovery/full) cookbook loading.
package project

import (
	"github.com/trybake/bake/internal/recipetemplate"
	"github.com/trybake/bake/internal/vars"
)

// ToolConfig mirrors bake.yml's config: block.
type ToolConfig struct {
	MaxParallel      int
	ReservedThreads  int
	FastFail         bool
	CleanEnvironment bool
	Verbose          bool
	MinVersion       string
}

// RemoteCacheConfig describes one remote cache tier declared in bake.yml's
// cache.remote block.
type RemoteCacheConfig struct {
	Provider string // "s3" or "gcs"
	Bucket   string
	Prefix   string
}

// CacheConfig mirrors bake.yml's cache: block. Mode is the raw string form
// of a cachestrategy.Mode, left unparsed here so this package stays
// independent of the cache-strategy wiring performed by the command layer.
type CacheConfig struct {
	Mode   string
	// EvictionPolicy is the raw string form of a blobindex.EvictionPolicy
	// ("lru" or "largest_first"); empty means the index's LRU default.
	EvictionPolicy string
	Remote         *RemoteCacheConfig
}

// Project is the root of the configuration tree, constructed once at
// startup and immutable during execution.
type Project struct {
	Root        string
	Name        string
	Description string
	Variables   *vars.Context
	Config      ToolConfig
	Cache       CacheConfig
	Templates   *recipetemplate.Registry
	Helpers     map[string]*Helper
	Cookbooks   []*Cookbook

	// BuildEnv is the --env-selected override group name, threaded through
	// every vars.Extend call at cookbook and recipe scope.
	BuildEnv string
}

// CookbookByName returns the named cookbook, or nil if none matches.
func (p *Project) CookbookByName(name string) *Cookbook {
	for _, cb := range p.Cookbooks {
		if cb.Name == name {
			return cb
		}
	}
	return nil
}

type loadState int

const (
	stateDiscovered loadState = iota
	stateFull
)

// Cookbook is a directory containing cookbook.yml. It is loaded either in
// discovery mode (recipe headers only) or full mode (complete recipe
// bodies rendered), per spec.md §4.10 steps 7 and 9.
type Cookbook struct {
	Path        string
	Name        string
	Description string
	DeclaredEnv []string
	Variables   *vars.Context

	state loadState
	raw   rawCookbook

	Recipes map[string]*Recipe
}

// IsFull reports whether FullLoad has already materialized cb's recipes.
func (cb *Cookbook) IsFull() bool { return cb.state == stateFull }

// Recipe is one unit of work, identified by its fully qualified name
// "cookbook:recipe".
type Recipe struct {
	Name        string
	Cookbook    string
	Description string

	// Enabled reflects the recipe's `when:` condition, evaluated during
	// discovery against the cookbook's variable context. FullLoad skips a
	// disabled recipe, so its Run stays empty; it is still inserted into the
	// graph and can be selected and scheduled like any other recipe.
	Enabled bool

	DependsOn []string
	Tags      []string
	Env       []string
	Variables *vars.Context

	// Run holds the rendered command once FullLoad has run. For a recipe
	// built from a template, TemplateRef and TemplateParams are set as well.
	Run            string
	TemplateRef    string
	TemplateParams map[string]any

	CacheInputs  []string
	CacheOutputs []string
}

// FQN returns the recipe's fully qualified name, "cookbook:recipe".
func (r *Recipe) FQN() string {
	return r.Cookbook + ":" + r.Name
}
