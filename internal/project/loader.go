package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/trybake/bake/internal/config"
	"github.com/trybake/bake/internal/errkind"
	"github.com/trybake/bake/internal/recipetemplate"
	"github.com/trybake/bake/internal/template"
	"github.com/trybake/bake/internal/vars"
)

const (
	projectFileName    = "bake.yml"
	projectFileNameAlt = "bake.yaml"
)

// Options controls optional behavior of Load not implied by the project
// tree itself.
type Options struct {
	BuildEnv              string
	CLIOverrides          map[string]string
	ForceVersionOverride  bool
}

// rawProjectFile mirrors bake.yml's YAML shape before template rendering.
type rawProjectFile struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Variables   yaml.Node     `yaml:"variables"`
	Overrides   yaml.Node     `yaml:"overrides"`
	Config      rawToolConfig `yaml:"config"`
	Cache       rawCacheBlock `yaml:"cache"`
}

type rawToolConfig struct {
	MaxParallel      int    `yaml:"max_parallel"`
	ReservedThreads  int    `yaml:"reserved_threads"`
	FastFail         bool   `yaml:"fast_fail"`
	CleanEnvironment bool   `yaml:"clean_environment"`
	Verbose          bool   `yaml:"verbose"`
	MinVersion       string `yaml:"min_version"`
}

type rawCacheBlock struct {
	Mode           string             `yaml:"mode"`
	EvictionPolicy string             `yaml:"eviction_policy"`
	Remote         *RemoteCacheConfig `yaml:"remote"`
}

// Load implements spec.md §4.10's 9-step pipeline: upward bake.yml
// discovery, minimal-context render+parse, ignore-aware cookbook.yml
// discovery, helper/template loading, and discovery-mode cookbook loading.
func Load(ctx context.Context, start string, opts Options) (*Project, error) {
	projectFile, root, err := discoverProjectRoot(start)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(projectFile)
	if err != nil {
		return nil, err
	}
	var raw rawProjectFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errkind.New(errkind.Configuration, err).WithLocation(projectFile, 0)
	}

	varsText, err := rawNodeText(raw.Variables)
	if err != nil {
		return nil, err
	}
	overridesText, err := rawNodeText(raw.Overrides)
	if err != nil {
		return nil, err
	}
	projectVars, err := vars.Extend(ctx, vars.Builtins(), varsText, overridesText, opts.BuildEnv)
	if err != nil {
		return nil, errkind.New(errkind.Configuration, err).WithLocation(projectFile, 0)
	}
	if len(opts.CLIOverrides) > 0 {
		projectVars = vars.WithCLIOverrides(projectVars, opts.CLIOverrides)
	}
	projectVars = vars.WithBuiltinScope(projectVars, template.NSProject, map[string]string{
		"root": root,
		"name": raw.Name,
	})

	p := &Project{
		Root:        root,
		Name:        raw.Name,
		Description: raw.Description,
		Variables:   projectVars,
		BuildEnv:    opts.BuildEnv,
		Config: ToolConfig{
			MaxParallel:      raw.Config.MaxParallel,
			ReservedThreads:  raw.Config.ReservedThreads,
			FastFail:         raw.Config.FastFail,
			CleanEnvironment: raw.Config.CleanEnvironment,
			Verbose:          raw.Config.Verbose,
			MinVersion:       raw.Config.MinVersion,
		},
		Cache: CacheConfig{Mode: raw.Cache.Mode, EvictionPolicy: raw.Cache.EvictionPolicy, Remote: raw.Cache.Remote},
	}

	if err := checkMinVersion(p.Config.MinVersion, opts.ForceVersionOverride); err != nil {
		return nil, errkind.New(errkind.Configuration, err).WithLocation(projectFile, 0)
	}

	layout := config.NewLayout(root)

	helpers, err := loadHelpers(layout.HelpersDir)
	if err != nil {
		return nil, err
	}
	p.Helpers = helpers

	templates, err := loadTemplates(layout.TemplatesDir)
	if err != nil {
		return nil, err
	}
	p.Templates = templates

	cookbookPaths, err := walkCookbooks(root)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	for _, path := range cookbookPaths {
		cb, err := discoverCookbook(ctx, p, path)
		if err != nil {
			return nil, err
		}
		if prior, dup := names[cb.Name]; dup {
			return nil, errkind.New(errkind.Configuration, fmt.Errorf("cookbook name %q declared in both %s and %s", cb.Name, prior, path)).
				WithLocation(path, 0)
		}
		names[cb.Name] = path
		p.Cookbooks = append(p.Cookbooks, cb)
	}
	sort.Slice(p.Cookbooks, func(i, j int) bool { return p.Cookbooks[i].Name < p.Cookbooks[j].Name })

	if err := validateDependencies(p); err != nil {
		return nil, err
	}

	return p, nil
}

// discoverProjectRoot walks upward from start until it finds bake.yml or
// bake.yaml, per spec.md §4.10 step 1.
func discoverProjectRoot(start string) (file string, root string, err error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", "", err
	}
	for {
		for _, name := range []string{projectFileName, projectFileNameAlt} {
			candidate := filepath.Join(dir, name)
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate, dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("project: no %s found above %s", projectFileName, start)
		}
		dir = parent
	}
}

// walkCookbooks finds every cookbook.yml/.yaml under root, honoring
// .gitignore-style exclusions discovered along the way (spec.md §4.10
// step 4). .git and .bake are always skipped.
func walkCookbooks(root string) ([]string, error) {
	var found []string
	if err := walkDir(root, &ignoreSet{}, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func walkDir(dir string, parentIgnore *ignoreSet, found *[]string) error {
	local, err := loadIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return err
	}
	ignore := parentIgnore.merge(local)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if name == ".git" || name == ".bake" {
			continue
		}
		full := filepath.Join(dir, name)
		if ignore.matches(name, e.IsDir()) {
			continue
		}
		if e.IsDir() {
			if err := walkDir(full, ignore, found); err != nil {
				return err
			}
			continue
		}
		if name == "cookbook.yml" || name == "cookbook.yaml" {
			*found = append(*found, full)
		}
	}
	return nil
}

// checkMinVersion rejects a project whose declared config.minVersion
// exceeds config.CurrentVersion, unless force is set.
func checkMinVersion(minVersion string, force bool) error {
	if minVersion == "" || force {
		return nil
	}
	want, err := semver.NewVersion(minVersion)
	if err != nil {
		return fmt.Errorf("invalid min_version %q: %w", minVersion, err)
	}
	have, err := semver.NewVersion(config.CurrentVersion)
	if err != nil {
		return err
	}
	if have.LessThan(want) {
		return fmt.Errorf("project requires bake >= %s, running %s (use --force-version-override to bypass)", minVersion, config.CurrentVersion)
	}
	return nil
}

// validateDependencies rejects recipes whose dependencies reference
// unknown recipes, after resolving unqualified names within the owning
// cookbook, per spec.md §4.10's validation list.
func validateDependencies(p *Project) error {
	known := map[string]bool{}
	for _, cb := range p.Cookbooks {
		for name := range cb.Recipes {
			known[cb.Name+":"+name] = true
		}
	}
	for _, cb := range p.Cookbooks {
		for name, r := range cb.Recipes {
			for _, dep := range r.DependsOn {
				fqn := dep
				if !containsColon(dep) {
					fqn = cb.Name + ":" + dep
				}
				if !known[fqn] {
					return errkind.New(errkind.Configuration, fmt.Errorf("unknown dependency %q", dep)).
						WithRecipe(cb.Name + ":" + name)
				}
			}
		}
	}
	return nil
}

func containsColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}

// loadHelpers loads every <name>.yml under dir as a Helper, rejecting any
// file whose declared name does not equal its filename stem.
func loadHelpers(dir string) (map[string]*Helper, error) {
	helpers := map[string]*Helper{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return helpers, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw rawHelper
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errkind.New(errkind.Configuration, err).WithLocation(path, 0)
		}
		stem := stemOf(e.Name())
		if raw.Name != "" && raw.Name != stem {
			return nil, errkind.New(errkind.Configuration, fmt.Errorf("helper file %q declares name %q, must equal filename stem %q", e.Name(), raw.Name, stem)).
				WithLocation(path, 0)
		}
		helpers[stem] = &Helper{
			Name:       stem,
			Parameters: toParameters(raw.Parameters),
			Variables:  raw.Variables,
			Env:        raw.Env,
			Returns:    raw.Returns,
			Body:       raw.Body,
		}
	}
	return helpers, nil
}

type rawHelper struct {
	Name       string              `yaml:"name"`
	Parameters []rawParameter      `yaml:"parameters"`
	Variables  map[string]any      `yaml:"variables"`
	Env        []string            `yaml:"env"`
	Returns    string              `yaml:"returns"`
	Body       string              `yaml:"body"`
}

type rawParameter struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Required bool           `yaml:"required"`
	Default  any            `yaml:"default"`
	Pattern  string         `yaml:"pattern"`
	Min      *float64       `yaml:"min"`
	Max      *float64       `yaml:"max"`
	Items    *rawParameter  `yaml:"items"`
	Props    []rawParameter `yaml:"properties"`
}

func toParameters(raws []rawParameter) []recipetemplate.Parameter {
	out := make([]recipetemplate.Parameter, len(raws))
	for i, rp := range raws {
		out[i] = toParameter(rp)
	}
	return out
}

func toParameter(rp rawParameter) recipetemplate.Parameter {
	p := recipetemplate.Parameter{
		Name:     rp.Name,
		Type:     recipetemplate.ParamType(rp.Type),
		Required: rp.Required,
		Default:  rp.Default,
		Pattern:  rp.Pattern,
		Min:      rp.Min,
		Max:      rp.Max,
	}
	if rp.Items != nil {
		item := toParameter(*rp.Items)
		p.Items = &item
	}
	if len(rp.Props) > 0 {
		p.Props = make(map[string]*recipetemplate.Parameter, len(rp.Props))
		for _, sub := range rp.Props {
			s := toParameter(sub)
			p.Props[sub.Name] = &s
		}
	}
	return p
}

// loadTemplates loads every <name>.yml/.yaml/.toml under dir as a recipe
// template and returns a registry over them. The .toml variant exists for
// template bundles an IDE or scaffolding tool ships as readable, commented
// config rather than project-authored YAML (spec.md's non-goal "IDE-shipped
// defaults" case) — both forms parse into the same recipetemplate.Template.
func loadTemplates(dir string) (*recipetemplate.Registry, error) {
	var templates []*recipetemplate.Template
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return recipetemplate.NewRegistry(nil), nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var raw rawTemplate
		if filepath.Ext(e.Name()) == ".toml" {
			if _, err := toml.Decode(string(data), &raw); err != nil {
				return nil, errkind.New(errkind.Configuration, err).WithLocation(path, 0)
			}
		} else {
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, errkind.New(errkind.Configuration, err).WithLocation(path, 0)
			}
		}

		name := raw.Name
		if name == "" {
			name = stemOf(e.Name())
		}
		templates = append(templates, &recipetemplate.Template{
			Name:       name,
			Extends:    raw.Extends,
			Parameters: toParameters(raw.Parameters),
			Body:       raw.Body,
		})
	}
	return recipetemplate.NewRegistry(templates), nil
}

type rawTemplate struct {
	Name       string         `yaml:"name" toml:"name"`
	Extends    string         `yaml:"extends" toml:"extends"`
	Parameters []rawParameter `yaml:"parameters" toml:"parameters"`
	Body       map[string]any `yaml:"body" toml:"body"`
}

func stemOf(filename string) string {
	ext := filepath.Ext(filename)
	return filename[:len(filename)-len(ext)]
}
